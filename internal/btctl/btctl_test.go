package btctl

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/hid"
	"github.com/roomhub/hub/internal/hidtables"
	"github.com/roomhub/hub/internal/hidtransport"
)

type fakeTransport struct {
	mu        sync.Mutex
	state     hidtransport.State
	failureCh chan hidtransport.FailureReason
	startErr  error
	sentKB    [][8]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:     hidtransport.NotStarted,
		failureCh: make(chan hidtransport.FailureReason, 1),
	}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.state = hidtransport.Ready
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.state = hidtransport.Stopped
	f.mu.Unlock()
}

func (f *fakeTransport) State() hidtransport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Failures() <-chan hidtransport.FailureReason { return f.failureCh }

func (f *fakeTransport) SendKeyboard(report [hid.KeyboardReportLen]byte) error {
	f.mu.Lock()
	f.sentKB = append(f.sentKB, report)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendConsumer(report [hid.ConsumerReportLen]byte) error { return nil }

func testTables() *hidtables.Tables {
	return &hidtables.Tables{
		Keyboard: map[string]uint8{"a": 0x04},
		Consumer: map[string]uint16{"volume_up": 0x00E9},
	}
}

func noopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestStartBecomesAvailable(t *testing.T) {
	ft := newFakeTransport()
	c := New(func() Transport { return ft }, testTables(), noopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.WaitReady(time.Second) {
		t.Fatal("expected ready within 1s")
	}
	if !c.Available() {
		t.Fatal("expected Available() true after ready")
	}
	c.Stop()
}

func TestKeyDownDroppedWhenNotAvailable(t *testing.T) {
	ft := newFakeTransport()
	c := New(func() Transport { return ft }, testTables(), noopLogger())
	if err := c.KeyDown(hid.Keyboard, "a"); err != nil {
		t.Fatal(err)
	}
	if len(ft.sentKB) != 0 {
		t.Fatal("expected no sends while not available")
	}
}

func TestKeyDownForwardsWhenAvailable(t *testing.T) {
	ft := newFakeTransport()
	c := New(func() Transport { return ft }, testTables(), noopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	c.WaitReady(time.Second)

	if err := c.KeyDown(hid.Keyboard, "a"); err != nil {
		t.Fatal(err)
	}
	ft.mu.Lock()
	n := len(ft.sentKB)
	ft.mu.Unlock()
	if n != 1 {
		t.Fatalf("got %d sends, want 1", n)
	}
	c.Stop()
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	capD := 30 * time.Second
	d := nextBackoff(time.Second, capD)
	if d != 2*time.Second {
		t.Fatalf("got %v, want 2s", d)
	}
	d = nextBackoff(capD, capD)
	if d != capD {
		t.Fatalf("got %v, want capped", d)
	}
}

func TestStopIsIdempotentAndUnblocksSupervisor(t *testing.T) {
	ft := newFakeTransport()
	c := New(func() Transport { return ft }, testTables(), noopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = c.Start(ctx)
	c.WaitReady(time.Second)
	c.Stop()
	c.Stop()
}
