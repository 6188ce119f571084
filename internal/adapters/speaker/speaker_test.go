package speaker

import (
	"context"
	"testing"
)

type fakeDevice struct {
	source string
	volume int
	muted  bool

	setSourceCalls []string
	setVolumeCalls []int
	muteCalls      int
	unmuteCalls    int
	playPauseCalls int
	nextCalls      int
	prevCalls      int
}

func (f *fakeDevice) Source() (string, error) { return f.source, nil }
func (f *fakeDevice) Volume() (int, error)     { return f.volume, nil }
func (f *fakeDevice) IsMuted() (bool, error)   { return f.muted, nil }

func (f *fakeDevice) SetSource(s string) error { f.source = s; f.setSourceCalls = append(f.setSourceCalls, s); return nil }
func (f *fakeDevice) SetVolume(v int) error    { f.volume = v; f.setVolumeCalls = append(f.setVolumeCalls, v); return nil }
func (f *fakeDevice) Mute() error              { f.muted = true; f.muteCalls++; return nil }
func (f *fakeDevice) Unmute() error            { f.muted = false; f.unmuteCalls++; return nil }
func (f *fakeDevice) PlayPause() error         { f.playPauseCalls++; return nil }
func (f *fakeDevice) Next() error              { f.nextCalls++; return nil }
func (f *fakeDevice) Previous() error          { f.prevCalls++; return nil }

func newTestAdapter(dev *fakeDevice) *Adapter {
	return &Adapter{speaker: dev}
}

func TestSetSourceVolumeMuteForwardToDevice(t *testing.T) {
	dev := &fakeDevice{}
	a := newTestAdapter(dev)
	ctx := context.Background()

	if err := a.SetSource(ctx, "Wifi"); err != nil {
		t.Fatal(err)
	}
	if err := a.SetVolume(ctx, 30); err != nil {
		t.Fatal(err)
	}
	if err := a.SetMute(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := a.SetMute(ctx, false); err != nil {
		t.Fatal(err)
	}

	if dev.source != "Wifi" || dev.volume != 30 {
		t.Fatalf("got source=%s volume=%d", dev.source, dev.volume)
	}
	if dev.muteCalls != 1 || dev.unmuteCalls != 1 {
		t.Fatalf("got mute=%d unmute=%d", dev.muteCalls, dev.unmuteCalls)
	}
}

func TestMediaNoopWhenSourceNotWifi(t *testing.T) {
	dev := &fakeDevice{source: "Opt"}
	a := newTestAdapter(dev)

	if err := a.Media(context.Background(), "play_pause"); err != nil {
		t.Fatal(err)
	}
	if dev.playPauseCalls != 0 {
		t.Fatalf("expected no-op on Opt source, got %d calls", dev.playPauseCalls)
	}
}

func TestMediaForwardsCommandsWhenSourceIsWifi(t *testing.T) {
	dev := &fakeDevice{source: "Wifi"}
	a := newTestAdapter(dev)
	ctx := context.Background()

	if err := a.Media(ctx, "play_pause"); err != nil {
		t.Fatal(err)
	}
	if err := a.Media(ctx, "next"); err != nil {
		t.Fatal(err)
	}
	if err := a.Media(ctx, "previous"); err != nil {
		t.Fatal(err)
	}
	if err := a.Media(ctx, "unknown"); err != nil {
		t.Fatal(err)
	}

	if dev.playPauseCalls != 1 || dev.nextCalls != 1 || dev.prevCalls != 1 {
		t.Fatalf("got playPause=%d next=%d prev=%d", dev.playPauseCalls, dev.nextCalls, dev.prevCalls)
	}
}

func TestChangeVolumeAddsDeltaToCurrent(t *testing.T) {
	dev := &fakeDevice{volume: 20}
	a := newTestAdapter(dev)

	if err := a.ChangeVolume(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if dev.volume != 25 {
		t.Fatalf("got volume %d, want 25", dev.volume)
	}
}

func TestGetSnapshotDiffersAfterVolumeChange(t *testing.T) {
	dev := &fakeDevice{source: "Opt", volume: 10}
	a := newTestAdapter(dev)

	var got []Snapshot
	a.OnChange(func(s Snapshot) { got = append(got, s) })

	snap1, err := a.getSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	a.mu.Lock()
	a.last = snap1
	a.haveLast = true
	a.mu.Unlock()

	dev.volume = 15
	snap2, err := a.getSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap2 == a.last {
		t.Fatal("expected changed snapshot")
	}
}
