package hidtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/hid"
)

const (
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties    = "org.freedesktop.DBus.Properties"
	ifaceGattService   = "org.bluez.GattService1"
	ifaceGattChar      = "org.bluez.GattCharacteristic1"
	ifaceGattDesc      = "org.bluez.GattDescriptor1"
	ifaceGattManager   = "org.bluez.GattManager1"
)

// gattCharacteristic is one exported GATT characteristic object. Every
// characteristic in the HID-over-GATT profile (§4.1's table) is one of
// these, configured with its own flags, value, and descriptors.
type gattCharacteristic struct {
	path      dbus.ObjectPath
	servicePath dbus.ObjectPath
	uuid      string
	flags     []string
	reportRef []byte // {reportID, reportType}; nil if this char has none

	mu         sync.Mutex
	value      []byte
	notifying  bool
	bus        *dbus.Conn
	log        *logrus.Entry
}

// ReadValue implements org.bluez.GattCharacteristic1.ReadValue.
func (c *gattCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

// WriteValue implements org.bluez.GattCharacteristic1.WriteValue. Writes
// to the Control Point characteristic are accepted and ignored per
// spec §4.1's characteristics table.
func (c *gattCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	c.mu.Lock()
	c.value = append([]byte(nil), value...)
	c.mu.Unlock()
	return nil
}

// StartNotify implements org.bluez.GattCharacteristic1.StartNotify,
// marking this characteristic subscribed (spec §4.1 send-gating input).
func (c *gattCharacteristic) StartNotify() *dbus.Error {
	c.mu.Lock()
	c.notifying = true
	c.mu.Unlock()
	return nil
}

// StopNotify clears the subscription.
func (c *gattCharacteristic) StopNotify() *dbus.Error {
	c.mu.Lock()
	c.notifying = false
	c.mu.Unlock()
	return nil
}

func (c *gattCharacteristic) isNotifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// notify updates the characteristic's value and emits a
// PropertiesChanged signal; BlueZ forwards this as an ATT notification
// to any subscribed central. Silently returns nil when not subscribed.
func (c *gattCharacteristic) notify(value []byte) error {
	c.mu.Lock()
	c.value = append([]byte(nil), value...)
	notifying := c.notifying
	c.mu.Unlock()
	if !notifying {
		return nil
	}
	changed := map[string]dbus.Variant{"Value": dbus.MakeVariant(value)}
	return c.bus.Emit(c.path, ifaceProperties+".PropertiesChanged", ifaceGattChar, changed, []string{})
}

func (c *gattCharacteristic) managedObject() map[string]map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(c.uuid),
		"Service": dbus.MakeVariant(c.servicePath),
		"Flags":   dbus.MakeVariant(c.flags),
	}
	out := map[string]map[string]dbus.Variant{ifaceGattChar: props}
	return out
}

// gattDescriptor is the report-reference descriptor (0x2908) attached
// to the keyboard and consumer input characteristics.
type gattDescriptor struct {
	path     dbus.ObjectPath
	charPath dbus.ObjectPath
	uuid     string
	value    []byte
}

func (d *gattDescriptor) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return append([]byte(nil), d.value...), nil
}

func (d *gattDescriptor) managedObject() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		ifaceGattDesc: {
			"UUID":           dbus.MakeVariant(d.uuid),
			"Characteristic": dbus.MakeVariant(d.charPath),
		},
	}
}

// objectManager answers GetManagedObjects for the whole application
// tree, which is how BlueZ discovers the service/characteristic/
// descriptor hierarchy on RegisterApplication.
type objectManager struct {
	app *gattApplication
}

func (m *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		svcHIDPath: {
			ifaceGattService: {
				"UUID":    dbus.MakeVariant(serviceHID),
				"Primary": dbus.MakeVariant(true),
			},
		},
	}
	for _, c := range m.app.chars {
		out[c.path] = c.managedObject()
	}
	for _, d := range m.app.descs {
		out[d.path] = d.managedObject()
	}
	return out, nil
}

// gattApplication is the full exported object tree for one GATT-server
// registration cycle, plus a lookup by logical channel name so the
// transport can notify by channel.
type gattApplication struct {
	bus  *dbus.Conn
	cfg  Config
	log  *logrus.Entry

	chars []*gattCharacteristic
	descs []*gattDescriptor

	keyboardReportChar *gattCharacteristic
	consumerReportChar *gattCharacteristic
	bootKeyboardChar   *gattCharacteristic
	protocolModeChar   *gattCharacteristic
}

func newGATTApplication(bus *dbus.Conn, cfg Config, log *logrus.Entry) *gattApplication {
	app := &gattApplication{bus: bus, cfg: cfg, log: log}

	mkChar := func(name, uuid string, flags []string, initial []byte) *gattCharacteristic {
		c := &gattCharacteristic{
			path:        dbus.ObjectPath(string(svcHIDPath) + "/char_" + name),
			servicePath: svcHIDPath,
			uuid:        uuid,
			flags:       flags,
			value:       initial,
			bus:         bus,
			log:         log,
		}
		app.chars = append(app.chars, c)
		return c
	}

	app.protocolModeChar = mkChar("protocol_mode", "2a4e", []string{"read", "write", "encrypt-read", "encrypt-write"}, []byte{0x01})
	mkChar("hid_info", "2a4a", []string{"read", "encrypt-read"}, []byte{0x11, 0x01, 0x00, 0x03})
	mkChar("control_point", "2a4c", []string{"write", "write-without-response", "encrypt-write"}, []byte{0x00})
	mkChar("report_map", "2a4b", []string{"read", "encrypt-read"}, hid.ReportMap)

	app.keyboardReportChar = mkChar("keyboard_input", "2a4d", []string{"read", "notify", "encrypt-read"}, make([]byte, hid.KeyboardReportLen))
	app.descs = append(app.descs, &gattDescriptor{
		path:     app.keyboardReportChar.path + "/desc_report_ref",
		charPath: app.keyboardReportChar.path,
		uuid:     "2908",
		value:    []byte{hid.KeyboardReportID, 0x01}, // (ReportID=1, type=Input)
	})

	app.consumerReportChar = mkChar("consumer_input", "2a4d", []string{"read", "notify", "encrypt-read"}, make([]byte, hid.ConsumerReportLen))
	app.descs = append(app.descs, &gattDescriptor{
		path:     app.consumerReportChar.path + "/desc_report_ref",
		charPath: app.consumerReportChar.path,
		uuid:     "2908",
		value:    []byte{hid.ConsumerReportID, 0x01},
	})

	app.bootKeyboardChar = mkChar("boot_keyboard_input", "2a22", []string{"read", "notify"}, make([]byte, hid.KeyboardReportLen))

	mkChar("battery_level", "2a19", []string{"read", "notify"}, []byte{100})
	mkChar("manufacturer_name", "2a29", []string{"read", "encrypt-read"}, []byte("Room Hub"))
	mkChar("model_number", "2a24", []string{"read", "encrypt-read"}, []byte("roomhub-1"))
	mkChar("pnp_id", "2a50", []string{"read", "encrypt-read"}, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})

	return app
}

// export publishes every object in the application tree on the bus,
// plus the ObjectManager at the application root.
func (a *gattApplication) export() error {
	if err := a.bus.Export(&objectManager{app: a}, appPath, ifaceObjectManager); err != nil {
		return err
	}
	for _, c := range a.chars {
		if err := a.bus.Export(c, c.path, ifaceGattChar); err != nil {
			return fmt.Errorf("export char %s: %w", c.path, err)
		}
	}
	for _, d := range a.descs {
		if err := a.bus.Export(d, d.path, ifaceGattDesc); err != nil {
			return fmt.Errorf("export desc %s: %w", d.path, err)
		}
	}
	return nil
}

// register calls org.bluez.GattManager1.RegisterApplication on the
// given adapter.
func (a *gattApplication) register(ctx context.Context, adapterPath dbus.ObjectPath) error {
	obj := a.bus.Object("org.bluez", adapterPath)
	return obj.CallWithContext(ctx, ifaceGattManager+".RegisterApplication", 0, appPath, map[string]dbus.Variant{}).Err
}

// unregister calls UnregisterApplication (best-effort).
func (a *gattApplication) unregister(adapterPath dbus.ObjectPath) {
	obj := a.bus.Object("org.bluez", adapterPath)
	_ = obj.Call(ifaceGattManager+".UnregisterApplication", 0, appPath).Err
}

// anySubscribed reports whether any of the three input channels has an
// active subscription (spec §4.1 send gating).
func (a *gattApplication) anySubscribed() bool {
	return a.keyboardReportChar.isNotifying() || a.consumerReportChar.isNotifying() || a.bootKeyboardChar.isNotifying()
}

// notifyKeyboard sends via 2A4D when in Report protocol mode, else via
// 2A22 (boot keyboard); sendBoth additionally mirrors to 2A22 while in
// report mode (spec §4.1).
func (a *gattApplication) notifyKeyboard(report []byte, sendBoth bool) error {
	a.protocolModeChar.mu.Lock()
	mode := byte(0x01)
	if len(a.protocolModeChar.value) > 0 {
		mode = a.protocolModeChar.value[0]
	}
	a.protocolModeChar.mu.Unlock()

	if mode == 0x01 {
		if err := a.keyboardReportChar.notify(report); err != nil {
			return err
		}
		if sendBoth {
			return a.bootKeyboardChar.notify(report)
		}
		return nil
	}
	return a.bootKeyboardChar.notify(report)
}

// notifyConsumer always notifies via the consumer 2A4D instance.
func (a *gattApplication) notifyConsumer(report []byte) error {
	return a.consumerReportChar.notify(report)
}
