// Package dispatch routes logical remote edges to BLE taps or
// control-plane emits according to the loaded keymap, implementing
// spec §4.5's action executor, repeat task, and hold task semantics.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/hid"
	"github.com/roomhub/hub/internal/keymap"
)

// BLE is the subset of btctl.Controller the dispatcher needs for
// do=ble bindings.
type BLE interface {
	KeyDown(usage hid.Usage, code string) error
	KeyUp(usage hid.Usage, code string) error
}

// Sink is the injected control-plane send for do=emit bindings; the
// dispatcher never inspects its return value (spec §4.5).
type Sink func(ctx context.Context, text string, extras map[string]any) bool

// Timing controls the repeat task cadence (spec §6's
// REPEAT_INITIAL_MS/REPEAT_RATE_MS).
type Timing struct {
	InitialDelay time.Duration
	Rate         time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.InitialDelay <= 0 {
		t.InitialDelay = 400 * time.Millisecond
	}
	if t.Rate <= 0 {
		t.Rate = 400 * time.Millisecond
	}
	return t
}

type holdKey struct {
	remKey string
	index  int
}

// task wraps a cancellable goroutine the dispatcher can await on stop.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) cancelAndAwait() {
	t.cancel()
	<-t.done
}

// Dispatcher owns the loaded keymap, current activity, and the task
// tables from spec §4.5.
type Dispatcher struct {
	doc    *keymap.Document
	ble    BLE
	sink   Sink
	timing Timing
	log    *logrus.Entry

	mu         sync.Mutex
	activity   string
	pressedAt  map[string]time.Time
	repeats    map[string]*task
	holds      map[holdKey]*task
	baseCtx    context.Context
}

// New builds a Dispatcher over doc, starting with activity OFF.
func New(doc *keymap.Document, ble BLE, sink Sink, timing Timing, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		doc:       doc,
		ble:       ble,
		sink:      sink,
		timing:    timing.withDefaults(),
		log:       log,
		activity:  "OFF",
		pressedAt: map[string]time.Time{},
		repeats:   map[string]*task{},
		holds:     map[holdKey]*task{},
		baseCtx:   context.Background(),
	}
}

// OnActivity updates the current activity string used for binding
// lookups.
func (d *Dispatcher) OnActivity(text string) {
	d.mu.Lock()
	d.activity = text
	d.mu.Unlock()
}

// OnEdge processes one (remKey, down) edge per spec §4.5's edge
// processing rules.
func (d *Dispatcher) OnEdge(remKey string, down bool) error {
	d.mu.Lock()
	activity := d.activity
	if down {
		d.pressedAt[remKey] = time.Now()
		d.cancelHoldsForKeyLocked(remKey)
	}
	bindings := append([]keymap.Binding(nil), d.doc.Bindings(activity, remKey)...)
	d.mu.Unlock()

	if !down {
		d.cancelRepeatForKeyAwaited(remKey)
		d.mu.Lock()
		d.cancelHoldsForKeyLocked(remKey)
		d.mu.Unlock()
	}

	edge := keymap.Up
	if down {
		edge = keymap.Down
	}

	for i, b := range bindings {
		d.executeBinding(b, edge, remKey, i)
	}

	if !down {
		d.mu.Lock()
		delete(d.pressedAt, remKey)
		d.mu.Unlock()
	}
	return nil
}

// executeBinding implements spec §4.5's action executor for one
// binding at index i.
func (d *Dispatcher) executeBinding(b keymap.Binding, edge keymap.Edge, remKey string, i int) {
	switch b.Do {
	case "ble":
		d.executeBLE(b, edge)
	case "emit":
		d.executeEmit(b, edge, remKey, i)
	}
}

func (d *Dispatcher) executeBLE(b keymap.Binding, edge keymap.Edge) {
	usage := hid.Usage(b.Usage)
	if b.Code == "" {
		return
	}
	var err error
	if edge == keymap.Down {
		err = d.ble.KeyDown(usage, b.Code)
	} else {
		err = d.ble.KeyUp(usage, b.Code)
	}
	if err != nil {
		d.log.WithError(err).WithField("code", b.Code).Warn("dispatch: ble action failed")
	}
}

func (d *Dispatcher) executeEmit(b keymap.Binding, edge keymap.Edge, remKey string, i int) {
	when := b.EffectiveWhen()
	if when != edge {
		return
	}

	if when == keymap.Up {
		if b.MinHoldMs > 0 {
			d.mu.Lock()
			start, ok := d.pressedAt[remKey]
			d.mu.Unlock()
			if !ok || time.Since(start) < time.Duration(b.MinHoldMs)*time.Millisecond {
				return
			}
		}
		d.sendEmit(b)
		return
	}

	// when == Down
	if b.MinHoldMs > 0 {
		d.scheduleHold(b, remKey, i)
		return
	}
	d.sendEmit(b)
	if b.Repeat {
		d.startRepeat(b, remKey)
	}
}

func (d *Dispatcher) sendEmit(b keymap.Binding) {
	if d.sink == nil {
		return
	}
	d.sink(d.baseCtx, b.Text, b.Extras)
}

// scheduleHold starts a hold task for (remKey, i): sleep min_hold_ms,
// then check the key is still held before firing the emit (and
// starting the repeat task if configured).
func (d *Dispatcher) scheduleHold(b keymap.Binding, remKey string, i int) {
	ctx, cancel := context.WithCancel(d.baseCtx)
	done := make(chan struct{})
	tk := &task{cancel: cancel, done: done}

	key := holdKey{remKey: remKey, index: i}
	d.mu.Lock()
	d.holds[key] = tk
	d.mu.Unlock()

	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(b.MinHoldMs) * time.Millisecond):
		}
		d.mu.Lock()
		_, stillHeld := d.pressedAt[remKey]
		if d.holds[key] == tk {
			delete(d.holds, key)
		}
		d.mu.Unlock()
		if !stillHeld {
			return
		}
		d.sendEmit(b)
		if b.Repeat {
			d.startRepeat(b, remKey)
		}
	}()
}

// startRepeat starts the single repeat task for remKey, cancelling any
// existing one first (spec §4.5: single task per remKey).
func (d *Dispatcher) startRepeat(b keymap.Binding, remKey string) {
	d.mu.Lock()
	if existing, ok := d.repeats[remKey]; ok {
		delete(d.repeats, remKey)
		d.mu.Unlock()
		existing.cancelAndAwait()
		d.mu.Lock()
	}

	ctx, cancel := context.WithCancel(d.baseCtx)
	done := make(chan struct{})
	tk := &task{cancel: cancel, done: done}
	d.repeats[remKey] = tk
	d.mu.Unlock()

	go func() {
		defer close(done)
		timer := time.NewTimer(d.timing.InitialDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		for {
			d.sendEmit(b)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.timing.Rate):
			}
		}
	}()
}

// cancelRepeatForKeyAwaited cancels and awaits the repeat task for
// remKey, if any.
func (d *Dispatcher) cancelRepeatForKeyAwaited(remKey string) {
	d.mu.Lock()
	tk, ok := d.repeats[remKey]
	if ok {
		delete(d.repeats, remKey)
	}
	d.mu.Unlock()
	if ok {
		tk.cancelAndAwait()
	}
}

// cancelHoldsForKeyLocked cancels every hold task for remKey. Must be
// called with d.mu held; cancellation itself happens after releasing
// the lock to avoid a hold goroutine deadlocking on d.mu.
func (d *Dispatcher) cancelHoldsForKeyLocked(remKey string) {
	var toCancel []*task
	for k, tk := range d.holds {
		if k.remKey == remKey {
			toCancel = append(toCancel, tk)
			delete(d.holds, k)
		}
	}
	if len(toCancel) == 0 {
		return
	}
	d.mu.Unlock()
	for _, tk := range toCancel {
		tk.cancelAndAwait()
	}
	d.mu.Lock()
}
