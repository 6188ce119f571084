// Package store is the single-table key-value persistence described in
// spec §3/§6: string keys to JSON-encoded values, backed by one file
// under DATA_DIR and serialized under one mutex (spec §5).
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Persisted key names, exact per spec §3.
const (
	KeyLastActivity        = "last_activity"
	KeyRadioStationIndex   = "radio_station_index"
	KeyTVLastPower         = "tv_last_power"
	KeyKEFLastSource       = "kef_last_source"
	KeyKEFLastVolume       = "kef_last_volume"
	KeyKEFLastMute         = "kef_last_mute"
	KeyMAPlayerID          = "ma_player_id"
	KeyMALastState         = "ma_last_state"
	KeyKEFDefaultWatch     = "kef_default_watch"
	KeyKEFDefaultListen    = "kef_default_listen"
	KeyListenDefaultStation = "listen_default_station"
	KeyStationsRefreshedAt = "stations_refreshed_at"
)

// Store is a mutex-guarded map persisted as one JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]json.RawMessage
}

// Open loads (or creates) the store file at filepath.Join(dataDir, "state.json").
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "state.json")
	s := &Store{path: path, data: map[string]json.RawMessage{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, errors.Wrap(err, "store: creating data dir")
			}
			return s, nil
		}
		return nil, errors.Wrap(err, "store: read")
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.Wrap(err, "store: parse")
	}
	return s, nil
}

// Set stores value under key, JSON-encoding it, and persists the whole
// table to disk.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "store: encode")
	}
	s.data[key] = enc
	return s.flushLocked()
}

// Get decodes the value stored under key into out. ok is false if the
// key is absent; out is left untouched in that case.
func (s *Store) Get(key string, out any) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, present := s.data[key]
	if !present {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, errors.Wrap(err, "store: decode")
	}
	return true, nil
}

// GetString is a convenience wrapper around Get for string-valued keys,
// returning def when the key is absent or malformed.
func (s *Store) GetString(key, def string) string {
	var v string
	if ok, err := s.Get(key, &v); ok && err == nil {
		return v
	}
	return def
}

// GetInt is a convenience wrapper around Get for int-valued keys.
func (s *Store) GetInt(key string, def int) int {
	var v int
	if ok, err := s.Get(key, &v); ok && err == nil {
		return v
	}
	return def
}

// GetBool is a convenience wrapper around Get for bool-valued keys.
func (s *Store) GetBool(key string, def bool) bool {
	var v bool
	if ok, err := s.Get(key, &v); ok && err == nil {
		return v
	}
	return def
}

// flushLocked writes the full table to disk via a temp-file-then-rename
// sequence so a crash mid-write never corrupts the last good state.
// Caller must hold s.mu.
func (s *Store) flushLocked() error {
	enc, err := json.Marshal(s.data)
	if err != nil {
		return errors.Wrap(err, "store: encode table")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, enc, 0o600); err != nil {
		return errors.Wrap(err, "store: write temp")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "store: rename")
	}
	return nil
}
