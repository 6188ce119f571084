package music

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPlayPostsURIToPlayer(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(srv.URL, "player-1")
	if err := a.Play(context.Background(), "Jazz FM"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/players/player-1/play" {
		t.Fatalf("got path %q", gotPath)
	}
	if gotBody["uri"] != "Jazz FM" {
		t.Fatalf("got body %+v", gotBody)
	}
}

func TestFetchSnapshotNormalizesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "playing", "player_id": "player-1"})
	}))
	defer srv.Close()

	a := New(srv.URL, "player-1")
	snap, err := a.fetchSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StatePlaying || snap.PlayerID != "player-1" {
		t.Fatalf("got %+v", snap)
	}
}

func TestPollLoopInvokesOnChangeOnlyWhenSnapshotChanges(t *testing.T) {
	state := "idle"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"state": state, "player_id": "player-1"})
	}))
	defer srv.Close()

	a := New(srv.URL, "player-1")
	var changes []Snapshot
	a.OnChange(func(s Snapshot) { changes = append(changes, s) })

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	a.PollLoop(ctx, 20*time.Millisecond)

	if len(changes) != 1 {
		t.Fatalf("expected exactly 1 change notification for a steady state, got %d", len(changes))
	}
}
