package store

import "testing"

func TestSetGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(KeyLastActivity, "WATCH"); err != nil {
		t.Fatal(err)
	}
	if got := s.GetString(KeyLastActivity, "OFF"); got != "WATCH" {
		t.Fatalf("got %q, want WATCH", got)
	}
}

func TestGetMissingKeyReturnsDefault(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.GetString(KeyLastActivity, "OFF"); got != "OFF" {
		t.Fatalf("got %q, want default OFF", got)
	}
	if got := s.GetInt(KeyRadioStationIndex, -1); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(KeyKEFLastVolume, 42); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.GetInt(KeyKEFLastVolume, 0); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestRestoreOfPersistedStateMatchesOriginal(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		KeyLastActivity:         "LISTEN",
		KeyRadioStationIndex:    3,
		KeyTVLastPower:          "off",
		KeyKEFLastSource:        "Wifi",
		KeyKEFLastVolume:        20,
		KeyKEFLastMute:          false,
		KeyMAPlayerID:           "player-1",
		KeyMALastState:          "playing",
		KeyKEFDefaultWatch:      25,
		KeyKEFDefaultListen:     20,
		KeyListenDefaultStation: "Jazz FM",
	}
	for k, v := range want {
		if err := s.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.GetString(KeyLastActivity, ""); got != "LISTEN" {
		t.Fatalf("got %q", got)
	}
	if got := s2.GetInt(KeyRadioStationIndex, -99); got != 3 {
		t.Fatalf("got %d", got)
	}
	if got := s2.GetBool(KeyKEFLastMute, true); got != false {
		t.Fatalf("got %v", got)
	}
}
