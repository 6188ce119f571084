package hid

import (
	"context"
	"testing"

	"github.com/roomhub/hub/internal/hidtables"
)

type fakeSender struct {
	keyboard [][KeyboardReportLen]byte
	consumer [][ConsumerReportLen]byte
}

func (f *fakeSender) SendKeyboard(r [KeyboardReportLen]byte) error {
	f.keyboard = append(f.keyboard, r)
	return nil
}

func (f *fakeSender) SendConsumer(r [ConsumerReportLen]byte) error {
	f.consumer = append(f.consumer, r)
	return nil
}

func testTables() *hidtables.Tables {
	return &hidtables.Tables{
		Keyboard: map[string]uint8{"a": 0x04, "enter": 0x28},
		Consumer: map[string]uint16{"volume_up": 0x00E9},
	}
}

func TestKeyDownEncodesUsageAtIndex2(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	if err := c.KeyDown(Keyboard, "a"); err != nil {
		t.Fatal(err)
	}
	want := [KeyboardReportLen]byte{0, 0, 0x04, 0, 0, 0, 0, 0}
	if s.keyboard[0] != want {
		t.Fatalf("got %v want %v", s.keyboard[0], want)
	}
}

func TestKeyDownUnknownKeyboardCodeEmitsAllZero(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	if err := c.KeyDown(Keyboard, "nonexistent"); err != nil {
		t.Fatal(err)
	}
	if s.keyboard[0] != KeyboardRelease {
		t.Fatalf("got %v want all-zero", s.keyboard[0])
	}
}

func TestKeyDownUnknownConsumerCodeSkipsSend(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	if err := c.KeyDown(Consumer, "nonexistent"); err != nil {
		t.Fatal(err)
	}
	if len(s.consumer) != 0 {
		t.Fatalf("expected no send, got %d", len(s.consumer))
	}
}

func TestConsumerEncodingLittleEndian(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	if err := c.KeyDown(Consumer, "volume_up"); err != nil {
		t.Fatal(err)
	}
	want := [ConsumerReportLen]byte{0xE9, 0x00}
	if s.consumer[0] != want {
		t.Fatalf("got %v want %v", s.consumer[0], want)
	}
}

func TestKeyUpIsAlwaysAllZero(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	if err := c.KeyUp(Keyboard, "a"); err != nil {
		t.Fatal(err)
	}
	if s.keyboard[0] != KeyboardRelease {
		t.Fatalf("got %v want all-zero", s.keyboard[0])
	}
	if err := c.KeyUp(Consumer, "volume_up"); err != nil {
		t.Fatal(err)
	}
	if s.consumer[0] != ConsumerRelease {
		t.Fatalf("got %v want all-zero", s.consumer[0])
	}
}

func TestRunMacroNoGapBeforeFirstStep(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	steps := []MacroStep{
		{Usage: Keyboard, Code: "a", HoldMs: 1},
		{Usage: Keyboard, Code: "enter", HoldMs: 1},
	}
	ctx := context.Background()
	if err := c.RunMacro(ctx, steps, 40, 1); err != nil {
		t.Fatal(err)
	}
	// Two taps -> four reports (down+up each).
	if len(s.keyboard) != 4 {
		t.Fatalf("got %d keyboard reports, want 4", len(s.keyboard))
	}
}

func TestRunMacroWaitStepSleepsOwnValue(t *testing.T) {
	s := &fakeSender{}
	c := NewClient(testTables(), s)
	steps := []MacroStep{
		{WaitMs: 1},
		{Usage: Keyboard, Code: "a", HoldMs: 1},
	}
	if err := c.RunMacro(context.Background(), steps, 40, 400); err != nil {
		t.Fatal(err)
	}
	if len(s.keyboard) != 2 {
		t.Fatalf("got %d keyboard reports, want 2 (down+up)", len(s.keyboard))
	}
}
