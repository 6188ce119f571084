// Package btctl supervises the BLE HID transport + client as one
// restartable unit, per spec §4.2: exponential-backoff restart, a
// best-effort start with a 5s readiness cap, and an `available` gate
// so callers never block on a dead link.
package btctl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/hid"
	"github.com/roomhub/hub/internal/hidtables"
	"github.com/roomhub/hub/internal/hidtransport"
)

// Transport is the subset of hidtransport.Transport the controller
// needs, satisfied by *hidtransport.Transport; narrowed for testing.
type Transport interface {
	Start(ctx context.Context) error
	Stop()
	State() hidtransport.State
	Failures() <-chan hidtransport.FailureReason
	SendKeyboard(report [hid.KeyboardReportLen]byte) error
	SendConsumer(report [hid.ConsumerReportLen]byte) error
}

// TransportFactory builds a fresh Transport for each supervised
// attempt (spec §3: "re-created on every recovery cycle").
type TransportFactory func() Transport

// Controller is the supervised BLE HID unit.
type Controller struct {
	newTransport TransportFactory
	tables       *hidtables.Tables
	log          *logrus.Entry

	available atomic.Bool

	mu        sync.Mutex
	transport Transport
	client    *hid.Client

	readyCh   chan struct{}
	readyOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New builds an unstarted Controller. newTransport is called once per
// supervisor attempt to produce a fresh Transport.
func New(newTransport TransportFactory, tables *hidtables.Tables, log *logrus.Entry) *Controller {
	return &Controller{
		newTransport: newTransport,
		tables:       tables,
		log:          log,
		readyCh:      make(chan struct{}),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the supervisor loop in the background and waits up to
// 5s for the first readiness transition (best effort — Start returns
// nil even on timeout; the supervisor keeps retrying). The transport's
// link watch allows a connecting peer up to 30s to resolve services, so
// a peer still pairing can leave the controller not ready when Start
// returns; KeyDown/KeyUp/SendKey/RunMacro calls in that window are
// dropped.
func (c *Controller) Start(ctx context.Context) error {
	go c.superviseLoop(ctx)

	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-c.readyCh:
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

// Stop requests supervisor shutdown and waits for it to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

// WaitReady blocks until the first ready transition or timeout elapses.
func (c *Controller) WaitReady(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.readyCh:
		return true
	case <-timer.C:
		return false
	}
}

// Available reports whether the underlying transport is currently
// ready for sends.
func (c *Controller) Available() bool { return c.available.Load() }

// KeyDown forwards to the HID client only while available; silently
// dropped otherwise (spec §4.2).
func (c *Controller) KeyDown(usage hid.Usage, code string) error {
	if !c.Available() {
		return nil
	}
	client := c.currentClient()
	if client == nil {
		return nil
	}
	return client.KeyDown(usage, code)
}

// KeyUp forwards to the HID client only while available.
func (c *Controller) KeyUp(usage hid.Usage, code string) error {
	if !c.Available() {
		return nil
	}
	client := c.currentClient()
	if client == nil {
		return nil
	}
	return client.KeyUp(usage, code)
}

// SendKey forwards a tap only while available.
func (c *Controller) SendKey(ctx context.Context, usage hid.Usage, code string, holdMs int) error {
	if !c.Available() {
		return nil
	}
	client := c.currentClient()
	if client == nil {
		return nil
	}
	return client.SendKey(ctx, usage, code, holdMs)
}

// RunMacro forwards a macro only while available. Each invocation gets
// a run id so a macro's steps can be correlated across the logs of a
// supervisor that may juggle several in flight (power-on/power-off
// macros fired by the activity FSM and by an inbound control-plane
// "macro" command can overlap).
func (c *Controller) RunMacro(ctx context.Context, steps []hid.MacroStep, defaultHoldMs, interDelayMs int) error {
	if !c.Available() {
		return nil
	}
	client := c.currentClient()
	if client == nil {
		return nil
	}
	runID := uuid.NewString()
	log := c.log.WithField("macro_run_id", runID)
	log.WithField("steps", len(steps)).Debug("btctl: macro run starting")
	err := client.RunMacro(ctx, steps, defaultHoldMs, interDelayMs)
	if err != nil {
		log.WithError(err).Debug("btctl: macro run failed")
	} else {
		log.Debug("btctl: macro run complete")
	}
	return err
}

func (c *Controller) currentClient() *hid.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// superviseLoop is spec §4.2's supervisor: backoff starting at 1s,
// doubling to a 30s cap, reset to 1s on each successful ready; exits
// cleanly when stop is requested or a "requested" failure is observed
// while stop was asked for.
func (c *Controller) superviseLoop(ctx context.Context) {
	defer close(c.doneCh)

	backoff := time.Second
	const backoffCap = 30 * time.Second

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		transport := c.newTransport()
		c.mu.Lock()
		c.transport = transport
		c.client = hid.NewClient(c.tables, transport)
		c.mu.Unlock()

		if err := transport.Start(ctx); err != nil {
			c.log.WithError(err).Warn("btctl: transport start failed")
			if !c.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, backoffCap)
			continue
		}

		if !c.awaitTransportReady(ctx, transport, 10*time.Second) {
			c.log.Warn("btctl: transport did not reach ready in time, restarting")
			transport.Stop()
			if !c.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, backoffCap)
			continue
		}

		c.available.Store(true)
		c.readyOnce.Do(func() { close(c.readyCh) })
		backoff = time.Second

		reason := c.awaitFailureOrStop(ctx, transport)

		c.available.Store(false)
		transport.Stop()

		if reason == hidtransport.ReasonRequested {
			select {
			case <-c.stopCh:
				return
			default:
			}
		}

		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !c.sleepBackoff(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, backoffCap)
	}
}

func (c *Controller) awaitTransportReady(ctx context.Context, transport Transport, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if transport.State() == hidtransport.Ready {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return transport.State() == hidtransport.Ready
}

func (c *Controller) awaitFailureOrStop(ctx context.Context, transport Transport) hidtransport.FailureReason {
	select {
	case reason := <-transport.Failures():
		return reason
	case <-c.stopCh:
		return hidtransport.ReasonRequested
	case <-ctx.Done():
		return hidtransport.ReasonRequested
	}
}

func (c *Controller) sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}
