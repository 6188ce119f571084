// Package hidtransport is the BLE HID-over-GATT peripheral supervisor
// described in spec §4.1: it owns the adapter session, the GATT
// application, the advertisement, and the two notification
// characteristics, recovering across adapter power loss, bus
// disconnect, and host re-pairing.
//
// tinygo.org/x/bluetooth is used only to enable the default adapter.
// The GATT application — report-map bytes, report-reference
// descriptors, encrypted characteristic permissions, subscription
// polling — and the advertisement object are built directly against
// BlueZ over github.com/godbus/dbus/v5, because the spec's requirements
// are more granular than tinygo's portable GATT-server API exposes.
package hidtransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/roomhub/hub/internal/hid"
)

// State mirrors spec §3's transport-state enum.
type State int32

const (
	NotStarted State = iota
	Starting
	Ready
	Degraded
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FailureReason is one of the critical-failure reasons from spec §4.1.
type FailureReason string

const (
	ReasonRequested      FailureReason = "requested"
	ReasonBusDisconnect  FailureReason = "bus-disconnect"
	ReasonBusError       FailureReason = "bus-error"
	ReasonAdapterPower   FailureReason = "adapter-power"
	ReasonAdapterError   FailureReason = "adapter-error"
)

// Config configures one transport instance.
type Config struct {
	AdapterName       string // e.g. "hci0"
	LocalName         string
	SendBothKeyboards bool
}

const (
	appearanceKeyboard = 0x03C1
	serviceHID         = "1812"
	serviceBattery     = "180F"
	serviceDeviceInfo  = "180A"

	svcHIDPath = "/org/roomhub/hid/service0"
	appPath    = "/org/roomhub/hid"
	advPath    = "/org/roomhub/hid/advertisement0"
	agentPath  = "/org/roomhub/hid/agent0"
)

// Transport is the supervised BLE peripheral. One instance per start
// cycle; a fresh one is built on every recovery (spec §3: transport
// state "re-created on every recovery cycle").
type Transport struct {
	cfg Config
	log *logrus.Entry

	state atomic.Int32

	mu          sync.Mutex
	bus         *dbus.Conn
	adapterPath dbus.ObjectPath
	app         *gattApplication
	adv         *advertisement
	btAdapter   *bluetooth.Adapter

	failureCh chan FailureReason
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New builds an unstarted Transport.
func New(cfg Config, log *logrus.Entry) *Transport {
	return &Transport{
		cfg:       cfg,
		log:       log,
		failureCh: make(chan FailureReason, 1),
		stopCh:    make(chan struct{}),
	}
}

// State returns the current transport state.
func (t *Transport) State() State { return State(t.state.Load()) }

func (t *Transport) setState(s State) { t.state.Store(int32(s)) }

// Failures returns the channel on which the monitor posts the
// critical-failure reason (spec §4.1).
func (t *Transport) Failures() <-chan FailureReason { return t.failureCh }

// Start acquires the bus, builds and registers the GATT application and
// advertisement, and launches the link-watch task. One power-cycle
// retry is attempted on registration failure; a second failure is fatal
// to this start attempt (spec §4.1).
func (t *Transport) Start(ctx context.Context) error {
	t.setState(Starting)

	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("hidtransport: system bus: %w", err)
	}
	t.mu.Lock()
	t.bus = bus
	t.mu.Unlock()

	adapterName := t.cfg.AdapterName
	if adapterName == "" {
		adapterName = "hci0"
	}
	t.adapterPath = dbus.ObjectPath("/org/bluez/" + adapterName)

	btAdapter := bluetooth.DefaultAdapter
	if err := btAdapter.Enable(); err != nil {
		t.log.WithError(err).Warn("tinygo adapter Enable failed, continuing with raw dbus path")
	}
	t.mu.Lock()
	t.btAdapter = btAdapter
	t.mu.Unlock()

	if err := t.registerAgent(); err != nil {
		t.log.WithError(err).Warn("pairing agent registration failed (best effort)")
	}

	if err := t.registerOnce(ctx); err != nil {
		t.log.WithError(err).Warn("first registration attempt failed, power-cycling adapter")
		if cycleErr := t.powerCycle(); cycleErr != nil {
			return fmt.Errorf("hidtransport: power cycle: %w", cycleErr)
		}
		if err := t.registerOnce(ctx); err != nil {
			return fmt.Errorf("hidtransport: registration failed after power cycle: %w", err)
		}
	}

	go t.linkWatch(ctx)
	go t.monitorCriticalFailure(ctx)

	return nil
}

// registerOnce builds a fresh GATT application + advertisement object
// and registers both with BlueZ.
func (t *Transport) registerOnce(ctx context.Context) error {
	app := newGATTApplication(t.bus, t.cfg, t.log)
	if err := app.export(); err != nil {
		return fmt.Errorf("exporting gatt application: %w", err)
	}
	if err := app.register(ctx, t.adapterPath); err != nil {
		return fmt.Errorf("registering gatt application: %w", err)
	}

	adv := newAdvertisement(t.bus, t.cfg)
	if err := adv.export(); err != nil {
		return fmt.Errorf("exporting advertisement: %w", err)
	}
	if err := adv.register(ctx, t.adapterPath); err != nil {
		return fmt.Errorf("registering advertisement: %w", err)
	}

	t.mu.Lock()
	t.app = app
	t.adv = adv
	t.mu.Unlock()
	return nil
}

// powerCycle powers the adapter off, waits ~400ms, powers it back on,
// and waits ~800ms, per spec §4.1.
func (t *Transport) powerCycle() error {
	if err := t.setPowered(false); err != nil {
		return err
	}
	time.Sleep(400 * time.Millisecond)
	if err := t.setPowered(true); err != nil {
		return err
	}
	time.Sleep(800 * time.Millisecond)
	return nil
}

func (t *Transport) setPowered(on bool) error {
	obj := t.bus.Object("org.bluez", t.adapterPath)
	return obj.SetProperty("org.bluez.Adapter1.Powered", dbus.MakeVariant(on))
}

// Stop cancels watchers, unregisters the advertisement and application,
// and sends zero-release reports on both channels.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.mu.Lock()
	adv, app := t.adv, t.app
	t.mu.Unlock()

	if adv != nil {
		adv.unregister(t.adapterPath)
	}
	if app != nil {
		app.unregister(t.adapterPath)
	}

	_ = t.SendKeyboard(hid.KeyboardRelease)
	_ = t.SendConsumer(hid.ConsumerRelease)

	t.setState(Stopped)
}

// ready reports whether the link is up and at least one input
// characteristic is subscribed (spec §4.1 send gating).
func (t *Transport) ready() bool {
	if t.State() != Ready {
		return false
	}
	t.mu.Lock()
	app := t.app
	t.mu.Unlock()
	if app == nil {
		return false
	}
	return app.anySubscribed()
}

// SendKeyboard notifies the keyboard channel if ready. Protocol mode
// selects 2A4D (Report) vs 2A22 (Boot); sendBothKeyboards additionally
// mirrors to 2A22 while in report mode (spec §4.1).
func (t *Transport) SendKeyboard(report [hid.KeyboardReportLen]byte) error {
	if !t.ready() {
		return nil
	}
	t.mu.Lock()
	app := t.app
	t.mu.Unlock()
	if app == nil {
		return nil
	}
	return app.notifyKeyboard(report[:], t.cfg.SendBothKeyboards)
}

// SendConsumer notifies the consumer channel if ready.
func (t *Transport) SendConsumer(report [hid.ConsumerReportLen]byte) error {
	if !t.ready() {
		return nil
	}
	t.mu.Lock()
	app := t.app
	t.mu.Unlock()
	if app == nil {
		return nil
	}
	return app.notifyConsumer(report[:])
}
