package hidtransport

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
)

// linkWatch implements spec §4.1's nine-step link sequence: wait for a
// connected Device1 under our adapter, best-effort mark it Trusted,
// wait for ServicesResolved (bounded), poll for a subscription (bounded),
// mark Ready, drop the advertisement, wait for disconnect, mark
// Degraded, then re-advertise and loop.
func (t *Transport) linkWatch(ctx context.Context) {
	signals := make(chan *dbus.Signal, 16)
	t.bus.Signal(signals)
	defer t.bus.RemoveSignal(signals)

	if err := t.bus.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		t.log.WithError(err).Warn("linkwatch: failed to subscribe to PropertiesChanged")
	}
	if err := t.bus.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.ObjectManager"),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		t.log.WithError(err).Warn("linkwatch: failed to subscribe to InterfacesAdded")
	}

	for {
		if ctx.Err() != nil {
			return
		}

		devicePath, ok := t.awaitConnectedDevice(ctx, signals)
		if !ok {
			return
		}
		t.log.WithField("device", devicePath).Info("hid central connected")

		if err := t.markTrusted(devicePath); err != nil {
			t.log.WithError(err).Debug("mark Trusted failed (best effort)")
		}

		if !t.awaitServicesResolved(ctx, signals, devicePath, 30*time.Second) {
			t.log.Warn("services never resolved within 30s, proceeding to subscription poll")
		}

		if !t.awaitSubscription(ctx, 3*time.Second) {
			t.log.Debug("no subscription observed within 3s, proceeding anyway")
		}

		t.setState(Ready)

		t.mu.Lock()
		adv := t.adv
		t.mu.Unlock()
		if adv != nil {
			adv.unregister(t.adapterPath)
		}

		t.awaitDisconnect(ctx, signals, devicePath)
		t.setState(Degraded)

		if ctx.Err() != nil {
			return
		}

		if err := t.registerOnce(ctx); err != nil {
			t.log.WithError(err).Warn("re-registration after disconnect failed")
			if !sleepCtxDur(ctx, time.Second) {
				return
			}
		}
	}
}

// awaitConnectedDevice blocks until a Device1 under our adapter reports
// Connected=true, returning its object path.
func (t *Transport) awaitConnectedDevice(ctx context.Context, signals chan *dbus.Signal) (dbus.ObjectPath, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-t.stopCh:
			return "", false
		case sig := <-signals:
			path, connected, isDevice := parseConnectedProperty(sig)
			if isDevice && connected && pathUnderAdapter(path, t.adapterPath) {
				return path, true
			}
		}
	}
}

// awaitServicesResolved waits up to timeout for ServicesResolved=true
// on devicePath.
func (t *Transport) awaitServicesResolved(ctx context.Context, signals chan *dbus.Signal, devicePath dbus.ObjectPath, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.stopCh:
			return false
		case <-deadline.C:
			return false
		case sig := <-signals:
			if sig.Path != devicePath {
				continue
			}
			if servicesResolved(sig) {
				return true
			}
		}
	}
}

// awaitSubscription polls anySubscribed up to timeout.
func (t *Transport) awaitSubscription(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		app := t.app
		t.mu.Unlock()
		if app != nil && app.anySubscribed() {
			return true
		}
		if !sleepCtxDur(ctx, 100*time.Millisecond) {
			return false
		}
	}
	return false
}

// awaitDisconnect blocks until devicePath reports Connected=false.
func (t *Transport) awaitDisconnect(ctx context.Context, signals chan *dbus.Signal, devicePath dbus.ObjectPath) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case sig := <-signals:
			if sig.Path != devicePath {
				continue
			}
			path, connected, isDevice := parseConnectedProperty(sig)
			if isDevice && path == devicePath && !connected {
				return
			}
		}
	}
}

func (t *Transport) markTrusted(devicePath dbus.ObjectPath) error {
	obj := t.bus.Object("org.bluez", devicePath)
	return obj.SetProperty("org.bluez.Device1.Trusted", dbus.MakeVariant(true))
}

// monitorCriticalFailure watches for the conditions spec §4.1 lists as
// critical: explicit stop (requested), the bus's Local.Disconnected
// signal (bus-disconnect), and, polled at 1Hz, the adapter's Powered
// property reading false (adapter-power) or failing to read
// (adapter-error). It never posts bus-error.
func (t *Transport) monitorCriticalFailure(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	disconnectSig := make(chan *dbus.Signal, 4)
	t.bus.Signal(disconnectSig)
	defer t.bus.RemoveSignal(disconnectSig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			t.postFailure(ReasonRequested)
			return
		case sig := <-disconnectSig:
			if sig.Name == "org.freedesktop.DBus.Local.Disconnected" {
				t.postFailure(ReasonBusDisconnect)
				return
			}
		case <-ticker.C:
			powered, err := t.adapterPowered()
			if err != nil {
				t.postFailure(ReasonAdapterError)
				return
			}
			if !powered {
				t.postFailure(ReasonAdapterPower)
				return
			}
		}
	}
}

func (t *Transport) adapterPowered() (bool, error) {
	obj := t.bus.Object("org.bluez", t.adapterPath)
	v, err := obj.GetProperty("org.bluez.Adapter1.Powered")
	if err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, nil
	}
	return on, nil
}

func (t *Transport) postFailure(reason FailureReason) {
	select {
	case t.failureCh <- reason:
	default:
	}
}

func sleepCtxDur(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// parseConnectedProperty extracts (devicePath, connected, isDeviceIface)
// from a PropertiesChanged signal on org.bluez.Device1.
func parseConnectedProperty(sig *dbus.Signal) (dbus.ObjectPath, bool, bool) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return "", false, false
	}
	if len(sig.Body) < 2 {
		return "", false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != "org.bluez.Device1" {
		return "", false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false, false
	}
	v, ok := changed["Connected"]
	if !ok {
		return sig.Path, false, true
	}
	connected, _ := v.Value().(bool)
	return sig.Path, connected, true
}

// servicesResolved reports whether sig carries ServicesResolved=true on
// org.bluez.Device1.
func servicesResolved(sig *dbus.Signal) bool {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return false
	}
	if len(sig.Body) < 2 {
		return false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != "org.bluez.Device1" {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["ServicesResolved"]
	if !ok {
		return false
	}
	resolved, _ := v.Value().(bool)
	return resolved
}

// pathUnderAdapter reports whether devicePath is a child object of
// adapterPath (BlueZ nests device paths under their adapter).
func pathUnderAdapter(devicePath, adapterPath dbus.ObjectPath) bool {
	prefix := string(adapterPath) + "/dev_"
	return len(devicePath) > len(prefix) && string(devicePath)[:len(prefix)] == prefix
}
