// Package music is a thin HTTP client for a Music Assistant server,
// implementing the activity.Music capability interface. Grounded on
// the reference music-assistant adapter's state/player_id/on_change
// shape, reduced to Music Assistant's plain REST control surface
// (Opt-out of the reference's websocket event stream, which is
// explicitly out of scope per spec §1).
package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// State mirrors spec §3's music.state enum.
type State string

const (
	StateOff     State = "off"
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Snapshot is what PollLoop reports on a change.
type Snapshot struct {
	State    State
	PlayerID string
}

// ChangeHandler is invoked whenever a poll observes a changed snapshot.
type ChangeHandler func(Snapshot)

// Adapter talks to a Music Assistant server over its REST API.
type Adapter struct {
	baseURL  string
	playerID string
	client   *http.Client
	onChange ChangeHandler
	last     Snapshot
	haveLast bool
}

// New builds an Adapter bound to baseURL (e.g. "http://127.0.0.1:8095")
// and the target playerID.
func New(baseURL, playerID string) *Adapter {
	return &Adapter{
		baseURL:  baseURL,
		playerID: playerID,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// OnChange registers the passive-change callback.
func (a *Adapter) OnChange(fn ChangeHandler) { a.onChange = fn }

// PollLoop polls player state at interval until ctx is cancelled.
func (a *Adapter) PollLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := a.fetchSnapshot(ctx)
			if err != nil {
				continue
			}
			changed := !a.haveLast || snap != a.last
			a.last = snap
			a.haveLast = true
			if changed && a.onChange != nil {
				a.onChange(snap)
			}
		}
	}
}

func (a *Adapter) fetchSnapshot(ctx context.Context) (Snapshot, error) {
	var out struct {
		State    string `json:"state"`
		PlayerID string `json:"player_id"`
	}
	if err := a.getJSON(ctx, fmt.Sprintf("/api/players/%s", a.playerID), &out); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{State: normalizeState(out.State), PlayerID: out.PlayerID}, nil
}

func normalizeState(raw string) State {
	switch raw {
	case "playing":
		return StatePlaying
	case "paused":
		return StatePaused
	case "idle", "stopped":
		return StateIdle
	default:
		return StateOff
	}
}

// Stop implements activity.Music.
func (a *Adapter) Stop(ctx context.Context) error {
	return a.postCommand(ctx, "stop", nil)
}

// Play implements activity.Music, starting playback of station.
func (a *Adapter) Play(ctx context.Context, station string) error {
	return a.postCommand(ctx, "play", map[string]any{"uri": station})
}

// Media implements activity.Music, forwarding a transport command
// (play/pause/next/previous) to the active player.
func (a *Adapter) Media(ctx context.Context, command string) error {
	return a.postCommand(ctx, command, nil)
}

func (a *Adapter) postCommand(ctx context.Context, command string, body map[string]any) error {
	if a.playerID == "" {
		return errors.New("music: no player configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/players/%s/%s", a.baseURL, a.playerID, command)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "music: request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("music: %s returned status %d", command, resp.StatusCode)
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "music: request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("music: get %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
