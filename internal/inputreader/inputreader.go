// Package inputreader opens the USB remote's Linux input-event device,
// resolves raw scancodes/key-names to logical keys via the keymap, and
// hands logical edges to the dispatcher off a bounded single-consumer
// queue, per spec §4.4.
package inputreader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/sirupsen/logrus"
)

// Resolver resolves a raw-scancode-or-key-name to a logical remKey,
// matching keymap.Document's Resolve method.
type Resolver interface {
	Resolve(rawOrName string) (remKey string, ok bool)
}

// EdgeHandler is the dispatcher callback invoked for every emitted
// logical edge. Errors are logged, never propagated.
type EdgeHandler func(remKey string, down bool) error

// Config controls device discovery and queue sizing.
type Config struct {
	// DevicePath, if non-empty, is used as-is (configuration override).
	DevicePath string
	// ReceiverPattern matches the "Unifying" USB receiver family device
	// name; empty defaults to "Unifying".
	ReceiverPattern string
	Grab            bool
	QueueDepth      int
	Debug           bool
	DebugUnknown    bool
}

type edge struct {
	remKey string
	down   bool
}

// Reader owns the open/retry loop, decoding, and edge queue.
type Reader struct {
	cfg      Config
	resolver Resolver
	handler  EdgeHandler
	log      *logrus.Entry

	queue chan edge

	mu      sync.Mutex
	dev     *evdev.InputDevice
	stopped bool
	cancel  context.CancelFunc
}

// New builds a Reader. Call Run to start the open/retry/decode loop.
func New(cfg Config, resolver Resolver, handler EdgeHandler, log *logrus.Entry) *Reader {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.ReceiverPattern == "" {
		cfg.ReceiverPattern = "Unifying"
	}
	return &Reader{
		cfg:      cfg,
		resolver: resolver,
		handler:  handler,
		log:      log,
		queue:    make(chan edge, cfg.QueueDepth),
	}
}

// Run blocks, opening devices, decoding events, and feeding the worker
// queue, until ctx is cancelled. It is safe to call once.
func (r *Reader) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	go r.drainQueue(ctx)

	backoff := 500 * time.Millisecond
	const backoffCap = 10 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		path, err := r.resolveDevicePath()
		if err != nil {
			r.log.WithError(err).Debug("no input device found")
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, backoffCap)
			continue
		}

		dev, err := evdev.Open(path)
		if err != nil {
			r.log.WithError(err).WithField("path", path).Warn("failed to open input device")
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, backoffCap)
			continue
		}

		if r.cfg.Grab {
			if err := dev.Grab(); err != nil {
				r.log.WithError(err).Debug("grab failed, continuing ungrabbed")
			}
		}

		backoff = 500 * time.Millisecond
		r.mu.Lock()
		r.dev = dev
		r.mu.Unlock()

		r.readLoop(ctx, dev)

		dev.Close()
		r.mu.Lock()
		r.dev = nil
		r.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// Stop cancels the reader; Run returns once torn down.
func (r *Reader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}

// resolveDevicePath implements the three-step source order from spec
// §4.4: explicit config, Unifying-family autodetect, any event-kbd.
func (r *Reader) resolveDevicePath() (string, error) {
	if r.cfg.DevicePath != "" {
		return r.cfg.DevicePath, nil
	}
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return "", fmt.Errorf("inputreader: listing devices: %w", err)
	}
	var fallback string
	for _, p := range paths {
		if !strings.HasSuffix(p.Path, "-event-kbd") && !strings.Contains(p.Path, "event-kbd") {
			continue
		}
		if strings.Contains(p.Name, r.cfg.ReceiverPattern) {
			return p.Path, nil
		}
		if fallback == "" {
			fallback = p.Path
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", errors.New("inputreader: no event-kbd device found")
}

// readLoop decodes events from dev until any read error or ctx
// cancellation (ENODEV/EIO are logged as stream errors, other read
// errors at debug level; Run then reopens the device), running the
// pending-MSC-scan / pressed-set state machine from spec §4.4.
func (r *Reader) readLoop(ctx context.Context, dev *evdev.InputDevice) {
	var pendingScan string
	havePending := false
	pressed := map[string]bool{}

	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := dev.ReadOne()
		if err != nil {
			if isFatalStreamErr(err) {
				r.log.WithError(err).Warn("input device stream error, reopening")
				return
			}
			r.log.WithError(err).Debug("input read error")
			return
		}

		switch ev.Type {
		case evdev.EV_MSC:
			if ev.Code == evdev.MSC_SCAN {
				pendingScan = strconv.FormatUint(uint64(uint32(ev.Value)), 10)
				havePending = true
			}
			continue
		case evdev.EV_KEY:
			r.handleKeyEvent(ev, &havePending, &pendingScan, pressed)
		default:
			continue
		}
	}
}

func (r *Reader) handleKeyEvent(ev *evdev.InputEvent, havePending *bool, pendingScan *string, pressed map[string]bool) {
	keyName := evdev.KEYNames[ev.Code]
	var remKey string
	var ok bool
	if *havePending {
		remKey, ok = r.resolver.Resolve(*pendingScan)
	} else {
		remKey, ok = r.resolver.Resolve(keyName)
	}
	*havePending = false
	*pendingScan = ""

	if !ok {
		if r.cfg.DebugUnknown {
			r.log.WithField("key", keyName).Debug("unmapped key event dropped")
		}
		return
	}

	rawCode := strconv.FormatInt(int64(ev.Code), 10)
	pressKey := remKey + "|" + rawCode

	emit, down := trackEdge(pressed, pressKey, ev.Value)
	if emit {
		r.enqueue(remKey, down)
	}
}

// trackEdge applies spec §4.4's edge-emission rules given the current
// pressed-set: auto-repeat (value=2) never emits; a down (value=1)
// emits only on the first down for pressKey; an up (value=0) always
// emits and clears pressKey. Exposed standalone so its logic is testable
// without a real evdev device.
func trackEdge(pressed map[string]bool, pressKey string, value int32) (emit, down bool) {
	switch value {
	case 2:
		return false, false
	case 1:
		if pressed[pressKey] {
			return false, false
		}
		pressed[pressKey] = true
		return true, true
	case 0:
		delete(pressed, pressKey)
		return true, false
	default:
		return false, false
	}
}

func (r *Reader) enqueue(remKey string, down bool) {
	select {
	case r.queue <- edge{remKey: remKey, down: down}:
	default:
		r.log.WithField("remKey", remKey).Warn("input edge queue full, dropping edge")
	}
}

// drainQueue is the single worker that awaits the dispatcher callback;
// a failing callback is logged and never stops the reader (spec §7).
func (r *Reader) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.queue:
			if err := r.handler(e.remKey, e.down); err != nil {
				r.log.WithError(err).WithField("remKey", e.remKey).Error("dispatcher callback failed")
			}
		}
	}
}

// isFatalStreamErr reports whether err corresponds to ENODEV or EIO on
// the device stream (spec §4.4: "tears down and re-enters the open loop").
func isFatalStreamErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such device") || strings.Contains(msg, "input/output error")
}

func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
