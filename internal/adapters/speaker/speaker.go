// Package speaker wraps a KEF W2-family loudspeaker as the Speaker
// capability interface spec §C names (getSnapshot, setSource,
// setVolume, changeVolume, setMute, media, onChange), backed by
// github.com/hilli/go-kef-w2/kefw2.
package speaker

import (
	"context"
	"sync"
	"time"

	"github.com/hilli/go-kef-w2/kefw2"
	"github.com/sirupsen/logrus"
)

// Snapshot mirrors spec §3's speaker sub-state.
type Snapshot struct {
	Source string
	Volume int
	Mute   bool
}

// ChangeHandler is invoked whenever a poll observes a changed snapshot.
type ChangeHandler func(Snapshot)

// device is the subset of kefw2.Speaker's method surface this adapter
// needs, narrowed to an interface so a fake can stand in for tests.
type device interface {
	Source() (string, error)
	Volume() (int, error)
	IsMuted() (bool, error)
	SetSource(string) error
	SetVolume(int) error
	Mute() error
	Unmute() error
	PlayPause() error
	Next() error
	Previous() error
}

// Adapter polls a KEF speaker and forwards commands to it, matching
// the poll_loop/on_change shape of the reference KEF adapter.
type Adapter struct {
	speaker device
	log     *logrus.Entry

	mu       sync.Mutex
	onChange ChangeHandler
	last     Snapshot
	haveLast bool
}

// New dials the speaker at host.
func New(host string, log *logrus.Entry) (*Adapter, error) {
	sp, err := kefw2.NewSpeaker(host)
	if err != nil {
		return nil, err
	}
	return &Adapter{speaker: sp, log: log}, nil
}

// OnChange registers the passive-change callback the FSM subscribes
// with.
func (a *Adapter) OnChange(fn ChangeHandler) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// PollLoop polls the speaker's snapshot at interval until ctx is
// cancelled, invoking OnChange whenever the observed snapshot changes.
func (a *Adapter) PollLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := a.getSnapshot()
			if err != nil {
				a.log.WithError(err).Debug("speaker: poll failed")
				continue
			}
			a.mu.Lock()
			changed := !a.haveLast || snap != a.last
			a.last = snap
			a.haveLast = true
			handler := a.onChange
			a.mu.Unlock()
			if changed && handler != nil {
				handler(snap)
			}
		}
	}
}

func (a *Adapter) getSnapshot() (Snapshot, error) {
	source, err := a.speaker.Source()
	if err != nil {
		return Snapshot{}, err
	}
	volume, err := a.speaker.Volume()
	if err != nil {
		return Snapshot{}, err
	}
	muted, err := a.speaker.IsMuted()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Source: source, Volume: volume, Mute: muted}, nil
}

// SetSource implements activity.Speaker.
func (a *Adapter) SetSource(ctx context.Context, source string) error {
	return a.speaker.SetSource(source)
}

// SetVolume implements activity.Speaker.
func (a *Adapter) SetVolume(ctx context.Context, volume int) error {
	return a.speaker.SetVolume(volume)
}

// ChangeVolume adjusts the current volume by delta, per the reference
// adapter's change_volume helper.
func (a *Adapter) ChangeVolume(ctx context.Context, delta int) error {
	snap, err := a.getSnapshot()
	if err != nil {
		return err
	}
	return a.speaker.SetVolume(snap.Volume + delta)
}

// SetMute implements activity.Speaker.
func (a *Adapter) SetMute(ctx context.Context, mute bool) error {
	if mute {
		return a.speaker.Mute()
	}
	return a.speaker.Unmute()
}

// Media sends a transport command; only meaningful while source=Wifi,
// matching the reference adapter's no-op-on-Opt behavior.
func (a *Adapter) Media(ctx context.Context, command string) error {
	source, err := a.speaker.Source()
	if err != nil {
		return err
	}
	if source != "Wifi" {
		return nil
	}
	switch command {
	case "play", "pause", "play_pause":
		return a.speaker.PlayPause()
	case "next":
		return a.speaker.Next()
	case "previous", "prev":
		return a.speaker.Previous()
	default:
		return nil
	}
}
