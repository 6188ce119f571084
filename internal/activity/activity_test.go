package activity

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/eventbus"
	"github.com/roomhub/hub/internal/hid"
	"github.com/roomhub/hub/internal/radiodial"
	"github.com/roomhub/hub/internal/store"
)

func noopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeSpeaker struct {
	source string
	volume int
	mute   bool
	media  []string
}

func (f *fakeSpeaker) SetSource(ctx context.Context, source string) error { f.source = source; return nil }
func (f *fakeSpeaker) SetVolume(ctx context.Context, volume int) error    { f.volume = volume; return nil }
func (f *fakeSpeaker) ChangeVolume(ctx context.Context, delta int) error  { f.volume += delta; return nil }
func (f *fakeSpeaker) SetMute(ctx context.Context, mute bool) error       { f.mute = mute; return nil }
func (f *fakeSpeaker) Media(ctx context.Context, command string) error {
	f.media = append(f.media, command)
	return nil
}

type fakeMusic struct {
	stopped bool
	played  string
	media   []string
}

func (f *fakeMusic) Stop(ctx context.Context) error       { f.stopped = true; return nil }
func (f *fakeMusic) Play(ctx context.Context, s string) error { f.played = s; return nil }
func (f *fakeMusic) Media(ctx context.Context, command string) error {
	f.media = append(f.media, command)
	return nil
}

func newTestFSM(t *testing.T) (*FSM, *fakeSpeaker, *fakeMusic, *eventbus.Bus) {
	t.Helper()
	f, speaker, music, bus := newTestFSMWithBLE(t, nil)
	return f, speaker, music, bus
}

type fakeBLE struct {
	calls chan []hid.MacroStep
}

func newFakeBLE() *fakeBLE { return &fakeBLE{calls: make(chan []hid.MacroStep, 10)} }

func (f *fakeBLE) RunMacro(ctx context.Context, steps []hid.MacroStep, defaultHoldMs, interDelayMs int) error {
	f.calls <- steps
	return nil
}

func newTestFSMWithBLE(t *testing.T, ble BLE) (*FSM, *fakeSpeaker, *fakeMusic, *eventbus.Bus) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	speaker := &fakeSpeaker{}
	music := &fakeMusic{}
	bus := eventbus.New()
	f := New(Defaults{WatchVolume: 25, ListenVolume: 20}, speaker, music, ble, nil, radiodial.New(), st, bus, noopLogger())
	f.Restore()
	return f, speaker, music, bus
}

func TestPassiveWatchOnTvPowerOn(t *testing.T) {
	f, speaker, _, bus := newTestFSM(t)
	sub := bus.Subscribe(10)
	defer bus.Unsubscribe(sub)

	f.OnTvPower(context.Background(), "on")

	if f.Snapshot().Activity != ActivityWatch {
		t.Fatalf("got %v, want WATCH", f.Snapshot().Activity)
	}

	ev1 := <-sub
	if ev1.Kind != "activity" || ev1.Data["activity"] != "WATCH" || ev1.Data["passive"] != true {
		t.Fatalf("unexpected first event: %+v", ev1)
	}
	ev2 := <-sub
	if ev2.Kind != "state" || ev2.Data["activity"] != "WATCH" {
		t.Fatalf("unexpected second event: %+v", ev2)
	}
	if speaker.source != SourceOpt {
		t.Fatalf("got source %q, want Opt", speaker.source)
	}
	if speaker.volume != 25 {
		t.Fatalf("got volume %d, want watch default 25", speaker.volume)
	}
}

func TestCmdWatchSetsSourceAndVolume(t *testing.T) {
	f, speaker, music, _ := newTestFSM(t)
	music.stopped = false
	f.CmdWatch(context.Background())

	if speaker.source != SourceOpt {
		t.Fatalf("got source %q, want Opt", speaker.source)
	}
	if speaker.volume != 25 {
		t.Fatalf("got volume %d, want 25", speaker.volume)
	}
	if !music.stopped {
		t.Fatal("expected music stopped on cmd_watch")
	}
	if f.Snapshot().RadioIndex != -1 {
		t.Fatalf("expected radio index reset to -1, got %d", f.Snapshot().RadioIndex)
	}
}

func TestMusicMediaRoutingByActivityAndState(t *testing.T) {
	f, speaker, music, _ := newTestFSM(t)

	f.snapshot.Activity = ActivityListen
	f.snapshot.MusicState = MusicPlaying
	target, err := f.RouteMedia(context.Background(), "pause")
	if err != nil {
		t.Fatal(err)
	}
	if target != "ma" {
		t.Fatalf("got target %q, want ma", target)
	}
	if len(music.media) != 1 || music.media[0] != "pause" {
		t.Fatalf("expected music adapter to receive pause, got %v", music.media)
	}

	f.snapshot.Activity = ActivityWatch
	f.snapshot.MusicState = MusicOff
	target, err = f.RouteMedia(context.Background(), "pause")
	if err != nil {
		t.Fatal(err)
	}
	if target != "kef" {
		t.Fatalf("got target %q, want kef", target)
	}
	if len(speaker.media) != 1 || speaker.media[0] != "pause" {
		t.Fatalf("expected speaker adapter to receive pause, got %v", speaker.media)
	}
}

func TestRestoreAppliesDefaultsWhenStoreEmpty(t *testing.T) {
	f, _, _, _ := newTestFSM(t)
	snap := f.Snapshot()
	if snap.Activity != ActivityOff {
		t.Fatalf("got %v, want OFF", snap.Activity)
	}
	if snap.TVPower != "off" {
		t.Fatalf("got %q, want off", snap.TVPower)
	}
	if snap.SpeakerSource != SourceOpt {
		t.Fatalf("got %q, want Opt", snap.SpeakerSource)
	}
	if snap.SpeakerVolume != 25 {
		t.Fatalf("got %d, want configured watch default 25", snap.SpeakerVolume)
	}
	if snap.RadioIndex != -1 {
		t.Fatalf("got %d, want -1", snap.RadioIndex)
	}
}

func TestChangeVolumeAppliesDeltaAndPersists(t *testing.T) {
	f, speaker, _, _ := newTestFSM(t)
	speaker.volume = 25 // the speaker reports the restored watch default
	if err := f.ChangeVolume(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if speaker.volume != 27 {
		t.Fatalf("got speaker volume %d, want 27", speaker.volume)
	}
	if f.Snapshot().SpeakerVolume != 27 {
		t.Fatalf("got snapshot volume %d, want 27", f.Snapshot().SpeakerVolume)
	}
}

func TestToggleMuteFlipsState(t *testing.T) {
	f, speaker, _, _ := newTestFSM(t)
	if err := f.ToggleMute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !speaker.mute || !f.Snapshot().SpeakerMute {
		t.Fatal("expected mute to be toggled on")
	}
	if err := f.ToggleMute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if speaker.mute || f.Snapshot().SpeakerMute {
		t.Fatal("expected mute to be toggled back off")
	}
}

func TestRadioStepAdvancesCursorAndPlaysWhenListening(t *testing.T) {
	f, _, music, _ := newTestFSM(t)
	f.radio.SetCatalog([]string{"one", "two", "three"})
	f.snapshot.Activity = ActivityListen
	f.snapshot.MusicState = MusicPlaying

	idx, err := f.RadioStep(context.Background(), "next")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("got index %d, want 0", idx)
	}
	if music.played != "one" {
		t.Fatalf("got played %q, want one", music.played)
	}

	idx, err = f.RadioStep(context.Background(), "next")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 || music.played != "two" {
		t.Fatalf("got idx=%d played=%q, want idx=1 played=two", idx, music.played)
	}
}

func TestRadioStepDoesNotPlayWhenNotListening(t *testing.T) {
	f, _, music, _ := newTestFSM(t)
	f.radio.SetCatalog([]string{"one", "two"})

	if _, err := f.RadioStep(context.Background(), "next"); err != nil {
		t.Fatal(err)
	}
	if music.played != "" {
		t.Fatalf("expected no play while not LISTEN, got %q", music.played)
	}
}

func TestPassiveListenOnSpeakerWifiFiresPowerOffMacroWhenTVOn(t *testing.T) {
	ble := newFakeBLE()
	f, _, _, _ := newTestFSMWithBLE(t, ble)
	f.snapshot.TVPower = "on"

	f.OnSpeakerChange(context.Background(), SpeakerSnapshot{Source: SourceWifi, Volume: 20})

	select {
	case <-ble.calls:
	case <-time.After(time.Second):
		t.Fatal("expected passive LISTEN with TV on to schedule a power_off macro")
	}
}

func TestExplicitCmdListenNeverFiresPowerOffMacro(t *testing.T) {
	ble := newFakeBLE()
	f, _, _, _ := newTestFSMWithBLE(t, ble)
	f.snapshot.Activity = ActivityWatch
	f.snapshot.TVPower = "on"

	f.CmdListen(context.Background(), "")

	select {
	case steps := <-ble.calls:
		t.Fatalf("explicit cmd_listen must not fire a macro, got %v", steps)
	case <-time.After(100 * time.Millisecond):
	}
}
