package hidtransport

import (
	"context"

	"github.com/godbus/dbus/v5"
)

const (
	ifaceLEAdvertisement    = "org.bluez.LEAdvertisement1"
	ifaceLEAdvertisingMgr   = "org.bluez.LEAdvertisingManager1"
)

// advertisement is the exported org.bluez.LEAdvertisement1 object
// advertising the HID, Battery, and Device Information service UUIDs
// with the keyboard appearance, discoverable and without a timeout
// (spec §4.1/§6).
type advertisement struct {
	bus      *dbus.Conn
	cfg      Config
	released chan struct{}
}

func newAdvertisement(bus *dbus.Conn, cfg Config) *advertisement {
	return &advertisement{bus: bus, cfg: cfg, released: make(chan struct{}, 1)}
}

// Release implements org.bluez.LEAdvertisement1.Release, called by
// BlueZ when the advertisement is unregistered or superseded.
func (a *advertisement) Release() *dbus.Error {
	select {
	case a.released <- struct{}{}:
	default:
	}
	return nil
}

func (a *advertisement) props() map[string]dbus.Variant {
	localName := a.cfg.LocalName
	if localName == "" {
		localName = "Room Hub Remote"
	}
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{serviceHID, serviceBattery, serviceDeviceInfo}),
		"LocalName":    dbus.MakeVariant(localName),
		"Appearance":   dbus.MakeVariant(uint16(appearanceKeyboard)),
		"Discoverable": dbus.MakeVariant(true),
		"Includes":     dbus.MakeVariant([]string{"appearance", "local-name"}),
	}
}

// export publishes the advertisement object and its Properties
// interface (BlueZ reads advertisement properties via
// org.freedesktop.DBus.Properties.GetAll, not an ObjectManager walk).
func (a *advertisement) export() error {
	if err := a.bus.Export(a, advPath, ifaceLEAdvertisement); err != nil {
		return err
	}
	return a.bus.Export(&advertisementProps{adv: a}, advPath, ifaceProperties)
}

// register calls org.bluez.LEAdvertisingManager1.RegisterAdvertisement.
func (a *advertisement) register(ctx context.Context, adapterPath dbus.ObjectPath) error {
	obj := a.bus.Object("org.bluez", adapterPath)
	return obj.CallWithContext(ctx, ifaceLEAdvertisingMgr+".RegisterAdvertisement", 0, dbus.ObjectPath(advPath), map[string]dbus.Variant{}).Err
}

// unregister calls UnregisterAdvertisement (best-effort; BlueZ may have
// already released it).
func (a *advertisement) unregister(adapterPath dbus.ObjectPath) {
	obj := a.bus.Object("org.bluez", adapterPath)
	_ = obj.Call(ifaceLEAdvertisingMgr+".UnregisterAdvertisement", 0, dbus.ObjectPath(advPath)).Err
}

// advertisementProps backs org.freedesktop.DBus.Properties for the
// advertisement object, since LEAdvertisement1 properties are static
// per registration rather than backed by a live Go struct field.
type advertisementProps struct {
	adv *advertisement
}

func (p *advertisementProps) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != ifaceLEAdvertisement {
		return map[string]dbus.Variant{}, nil
	}
	return p.adv.props(), nil
}

func (p *advertisementProps) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	all := p.adv.props()
	if v, ok := all[name]; ok {
		return v, nil
	}
	return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
}

func (p *advertisementProps) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", nil)
}
