// Package activity is the ActivityFsm described in spec §4.6: the
// authoritative owner of activity state, reacting to passive adapter
// signals and issuing coordinated commands across the speaker, music
// server, radio dial, and BLE macros. Each mutation persists the keys it
// changes and publishes a "state" snapshot via publishSnapshot
// (RadioStep publishes a "radio" event instead).
package activity

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/eventbus"
	"github.com/roomhub/hub/internal/hid"
	"github.com/roomhub/hub/internal/radiodial"
	"github.com/roomhub/hub/internal/store"
)

// Activity is one of the three activity values spec §3 defines.
type Activity string

const (
	ActivityOff    Activity = "OFF"
	ActivityWatch  Activity = "WATCH"
	ActivityListen Activity = "LISTEN"
)

// MusicState mirrors spec §3's music.state enum.
type MusicState string

const (
	MusicOff     MusicState = "off"
	MusicIdle    MusicState = "idle"
	MusicPlaying MusicState = "playing"
	MusicPaused  MusicState = "paused"
)

const (
	SourceOpt  = "Opt"
	SourceWifi = "Wifi"
)

// Snapshot is the FSM's in-memory state (spec §3's "FSM snapshot").
type Snapshot struct {
	Activity Activity

	TVPower string

	SpeakerSource string
	SpeakerVolume int
	SpeakerMute   bool

	MusicState    MusicState
	MusicPlayerID string

	RadioIndex int
}

// SpeakerSnapshot is what the speaker adapter reports on a change.
type SpeakerSnapshot struct {
	Source string
	Volume int
	Mute   bool
}

// MusicSnapshot is what the music adapter reports on a change.
type MusicSnapshot struct {
	State    MusicState
	PlayerID string
}

// Speaker is the part of the speaker capability set (spec §C) that the
// FSM drives: setSource/setVolume/changeVolume/setMute/media. Snapshot
// polling and the change callback live on the concrete adapter and are
// wired to the FSM in cmd/hubd.
type Speaker interface {
	SetSource(ctx context.Context, source string) error
	SetVolume(ctx context.Context, volume int) error
	ChangeVolume(ctx context.Context, delta int) error
	SetMute(ctx context.Context, mute bool) error
	Media(ctx context.Context, command string) error
}

// Music is the music-server capability interface.
type Music interface {
	Stop(ctx context.Context) error
	Play(ctx context.Context, station string) error
	Media(ctx context.Context, command string) error
}

// BLE is the macro-launching surface the FSM needs; macros are
// fire-and-forget and must not block FSM transitions (spec §4.6).
type BLE interface {
	RunMacro(ctx context.Context, steps []hid.MacroStep, defaultHoldMs, interDelayMs int) error
}

// Webhook posts the named home-automation webhook events.
type Webhook interface {
	Post(ctx context.Context, event string) error
}

// Defaults holds the configured default volumes and station (spec §3's
// kef_default_watch/kef_default_listen/listen_default_station keys).
type Defaults struct {
	WatchVolume    int
	ListenVolume   int
	ListenStation  string
}

// powerOnMacro and powerOffMacro mirror the reference system's default
// MACROS table: a wake tap followed by a settle wait and a menu nudge
// for power-on, and a longer stop/home/menu sequence ending in an
// extended power hold for power-off.
var powerOnMacro = []hid.MacroStep{
	{Usage: hid.Consumer, Code: "power", HoldMs: 40},
	{WaitMs: 3000},
	{Usage: hid.Consumer, Code: "menu", HoldMs: 40},
}

var powerOffMacro = []hid.MacroStep{
	{Usage: hid.Consumer, Code: "stop", HoldMs: 40},
	{Usage: hid.Consumer, Code: "ac_home", HoldMs: 40},
	{Usage: hid.Consumer, Code: "ac_home", HoldMs: 40},
	{Usage: hid.Consumer, Code: "menu", HoldMs: 40},
	{Usage: hid.Consumer, Code: "menu", HoldMs: 40},
	{Usage: hid.Consumer, Code: "power", HoldMs: 2000},
}

// FSM is the activity state machine of spec §4.6.
type FSM struct {
	snapshot Snapshot
	// tvCachedPower suppresses redundant macro firings when the TV is
	// observed already in the desired state; distinct from
	// snapshot.TVPower (spec §4.6).
	tvCachedPower string

	defaults Defaults

	speaker Speaker
	music   Music
	ble     BLE
	webhook Webhook
	radio   *radiodial.Dial
	store   *store.Store
	bus     *eventbus.Bus
	log     *logrus.Entry
}

// New builds an FSM wired to its adapters and infrastructure.
func New(defaults Defaults, speaker Speaker, music Music, ble BLE, webhook Webhook, radio *radiodial.Dial, st *store.Store, bus *eventbus.Bus, log *logrus.Entry) *FSM {
	return &FSM{
		defaults: defaults,
		speaker:  speaker,
		music:    music,
		ble:      ble,
		webhook:  webhook,
		radio:    radio,
		store:    st,
		bus:      bus,
		log:      log,
	}
}

// Restore reads the eleven persisted keys, applying the spec §4.6
// defaults for anything absent, and publishes one snapshot event. Stored
// kef_default_watch/kef_default_listen/listen_default_station values
// override the configured Defaults. No device commands are issued at
// restore.
func (f *FSM) Restore() {
	f.defaults.WatchVolume = f.store.GetInt(store.KeyKEFDefaultWatch, f.defaults.WatchVolume)
	f.defaults.ListenVolume = f.store.GetInt(store.KeyKEFDefaultListen, f.defaults.ListenVolume)
	f.defaults.ListenStation = f.store.GetString(store.KeyListenDefaultStation, f.defaults.ListenStation)
	f.snapshot = Snapshot{
		Activity:      Activity(f.store.GetString(store.KeyLastActivity, string(ActivityOff))),
		TVPower:       f.store.GetString(store.KeyTVLastPower, "off"),
		SpeakerSource: f.store.GetString(store.KeyKEFLastSource, SourceOpt),
		SpeakerVolume: f.store.GetInt(store.KeyKEFLastVolume, f.defaults.WatchVolume),
		SpeakerMute:   f.store.GetBool(store.KeyKEFLastMute, false),
		MusicState:    MusicState(f.store.GetString(store.KeyMALastState, string(MusicOff))),
		MusicPlayerID: f.store.GetString(store.KeyMAPlayerID, ""),
		RadioIndex:    f.store.GetInt(store.KeyRadioStationIndex, -1),
	}
	f.tvCachedPower = f.snapshot.TVPower
	f.radio.SetCursor(f.snapshot.RadioIndex)
	f.publishSnapshot()
}

// OnTvPower is the passive TV-power callback (spec §4.6). Entering
// WATCH passively runs the same entry side-effects as CmdWatch except
// the power_on macro, which is explicit-only (fsm.py's
// enter_watch(passive=True) still calls set_source/ma.stop/set_volume).
func (f *FSM) OnTvPower(ctx context.Context, power string) {
	f.snapshot.TVPower = power
	f.tvCachedPower = power
	f.persist(store.KeyTVLastPower, power)

	if power == "on" && f.snapshot.Activity != ActivityWatch {
		f.snapshot.Activity = ActivityWatch
		f.persist(store.KeyLastActivity, string(ActivityWatch))
		f.publishActivity(true)
		f.enterWatchSideEffects(ctx)
	}
	f.publishSnapshot()
}

// OnSpeakerChange is the passive speaker-state callback. Entering
// LISTEN passively (source flips to Wifi) schedules the power_off
// macro when the TV is on — the explicit cmd_listen path never does
// (spec §4.6, fsm.py's enter_listen(passive=True)).
func (f *FSM) OnSpeakerChange(ctx context.Context, snap SpeakerSnapshot) {
	prevSource := f.snapshot.SpeakerSource
	f.snapshot.SpeakerSource = snap.Source
	f.snapshot.SpeakerVolume = snap.Volume
	f.snapshot.SpeakerMute = snap.Mute
	f.persist(store.KeyKEFLastSource, snap.Source)
	f.persist(store.KeyKEFLastVolume, snap.Volume)
	f.persist(store.KeyKEFLastMute, snap.Mute)

	if prevSource != SourceWifi && snap.Source == SourceWifi && f.snapshot.Activity != ActivityListen {
		tvWasOn := f.snapshot.TVPower == "on"
		f.snapshot.Activity = ActivityListen
		f.persist(store.KeyLastActivity, string(ActivityListen))
		f.publishActivity(true)
		if tvWasOn {
			f.fireAndForgetMacro(ctx, powerOffMacro)
		}
	}
	f.publishSnapshot()
}

// OnMusicChange is the passive music-state callback.
func (f *FSM) OnMusicChange(ctx context.Context, snap MusicSnapshot) {
	f.snapshot.MusicState = snap.State
	f.snapshot.MusicPlayerID = snap.PlayerID
	f.persist(store.KeyMALastState, string(snap.State))
	f.persist(store.KeyMAPlayerID, snap.PlayerID)
	f.publishSnapshot()
}

// CmdWatch is the explicit "watch" command (spec §4.6).
func (f *FSM) CmdWatch(ctx context.Context) {
	f.snapshot.Activity = ActivityWatch
	f.publishActivity(false)

	if f.tvCachedPower != "on" {
		f.fireAndForgetMacro(ctx, powerOnMacro)
	}
	f.enterWatchSideEffects(ctx)

	f.persist(store.KeyLastActivity, string(ActivityWatch))
	f.postWebhook(ctx, "watch")
	f.publishSnapshot()
}

// enterWatchSideEffects runs the entry actions shared by the explicit
// and passive WATCH paths: speaker to Opt at the watch default volume,
// music stopped, radio index reset (fsm.py's enter_watch).
func (f *FSM) enterWatchSideEffects(ctx context.Context) {
	f.setSpeakerSource(ctx, SourceOpt)
	f.stopMusic(ctx)
	f.snapshot.RadioIndex = -1
	f.radio.SetCursor(-1)
	f.persist(store.KeyRadioStationIndex, -1)
	f.setSpeakerVolume(ctx, f.defaults.WatchVolume)
}

// CmdListen is the explicit "listen" command, optionally naming a
// station. The power_off macro on TV-on is the passive-LISTEN path's
// job (OnSpeakerChange); explicit cmd_listen never powers off the TV
// (spec §4.6).
func (f *FSM) CmdListen(ctx context.Context, station string) {
	f.snapshot.Activity = ActivityListen
	f.publishActivity(false)

	f.setSpeakerSource(ctx, SourceWifi)
	if station != "" {
		if idx := f.radio.FindByName(station); idx >= 0 {
			f.radio.SetCursor(idx)
			f.snapshot.RadioIndex = idx
			f.persist(store.KeyRadioStationIndex, idx)
			if f.music != nil {
				_ = f.music.Play(ctx, station)
			}
		}
	}
	f.setSpeakerVolume(ctx, f.defaults.ListenVolume)

	f.persist(store.KeyLastActivity, string(ActivityListen))
	f.postWebhook(ctx, "listen")
	f.publishSnapshot()
}

// CmdPowerOff is the explicit "power off" command.
func (f *FSM) CmdPowerOff(ctx context.Context) {
	f.snapshot.Activity = ActivityOff
	f.publishActivity(false)

	if f.snapshot.TVPower == "on" {
		f.fireAndForgetMacro(ctx, powerOffMacro)
	}
	f.stopMusic(ctx)
	f.setSpeakerMute(ctx, true)

	f.persist(store.KeyLastActivity, string(ActivityOff))
	f.postWebhook(ctx, "power_off")
	f.publishSnapshot()
}

// RouteMedia implements spec §4.6's media routing: LISTEN with music
// active routes to the music adapter ("ma"); otherwise to the speaker
// adapter ("kef").
func (f *FSM) RouteMedia(ctx context.Context, command string) (target string, err error) {
	if f.snapshot.Activity == ActivityListen && (f.snapshot.MusicState == MusicIdle || f.snapshot.MusicState == MusicPlaying || f.snapshot.MusicState == MusicPaused) {
		if f.music != nil {
			err = f.music.Media(ctx, command)
		}
		return "ma", err
	}
	if f.speaker != nil {
		err = f.speaker.Media(ctx, command)
	}
	return "kef", err
}

// Snapshot returns a copy of the current in-memory state.
func (f *FSM) Snapshot() Snapshot { return f.snapshot }

// ChangeVolume nudges the speaker volume by delta (the remote's
// volume-up/down bindings use ±2, per the reference /api/volume
// handler) and persists the observed result.
func (f *FSM) ChangeVolume(ctx context.Context, delta int) error {
	if f.speaker == nil {
		return nil
	}
	if err := f.speaker.ChangeVolume(ctx, delta); err != nil {
		return errors.Wrap(err, "activity: change volume")
	}
	f.snapshot.SpeakerVolume += delta
	f.persist(store.KeyKEFLastVolume, f.snapshot.SpeakerVolume)
	f.publishSnapshot()
	return nil
}

// ToggleMute flips the speaker's mute state.
func (f *FSM) ToggleMute(ctx context.Context) error {
	f.setSpeakerMute(ctx, !f.snapshot.SpeakerMute)
	f.publishSnapshot()
	return nil
}

// RadioStep advances (command="next") or retreats (command="previous"/
// "prev") the radio dial's cursor, persists the new index, publishes a
// "radio" event, and — when LISTEN is active and the music state is not
// off — tunes the music adapter to the newly selected station,
// mirroring the reference /api/radio handler.
func (f *FSM) RadioStep(ctx context.Context, command string) (index int, err error) {
	switch command {
	case "next":
		index = f.radio.Next()
	case "previous", "prev":
		index = f.radio.Prev()
	default:
		return f.radio.Cursor(), nil
	}
	f.snapshot.RadioIndex = index
	f.persist(store.KeyRadioStationIndex, index)
	f.bus.Publish(eventbus.Event{
		Timestamp: time.Now(),
		Kind:      "radio",
		Data:      map[string]any{"index": index},
	})

	station := f.radio.Current()
	if station != "" && f.snapshot.Activity == ActivityListen && f.snapshot.MusicState != MusicOff && f.music != nil {
		if playErr := f.music.Play(ctx, station); playErr != nil {
			f.log.WithError(playErr).Warn("activity: radio station play failed")
		}
	}
	return index, nil
}

func (f *FSM) setSpeakerSource(ctx context.Context, source string) {
	f.snapshot.SpeakerSource = source
	f.persist(store.KeyKEFLastSource, source)
	if f.speaker != nil {
		if err := f.speaker.SetSource(ctx, source); err != nil {
			f.log.WithError(err).Warn("activity: set speaker source failed")
		}
	}
}

func (f *FSM) setSpeakerVolume(ctx context.Context, volume int) {
	f.snapshot.SpeakerVolume = volume
	f.persist(store.KeyKEFLastVolume, volume)
	if f.speaker != nil {
		if err := f.speaker.SetVolume(ctx, volume); err != nil {
			f.log.WithError(err).Warn("activity: set speaker volume failed")
		}
	}
}

func (f *FSM) setSpeakerMute(ctx context.Context, mute bool) {
	f.snapshot.SpeakerMute = mute
	f.persist(store.KeyKEFLastMute, mute)
	if f.speaker != nil {
		if err := f.speaker.SetMute(ctx, mute); err != nil {
			f.log.WithError(err).Warn("activity: set speaker mute failed")
		}
	}
}

func (f *FSM) stopMusic(ctx context.Context) {
	f.snapshot.MusicState = MusicOff
	f.persist(store.KeyMALastState, string(MusicOff))
	if f.music != nil {
		if err := f.music.Stop(ctx); err != nil {
			f.log.WithError(err).Warn("activity: stop music failed")
		}
	}
}

// fireAndForgetMacro launches a BLE macro in its own goroutine so FSM
// transitions never block on the transport (spec §4.6).
func (f *FSM) fireAndForgetMacro(ctx context.Context, steps []hid.MacroStep) {
	if f.ble == nil {
		return
	}
	go func() {
		macroCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.ble.RunMacro(macroCtx, steps, 40, 400); err != nil {
			f.log.WithError(err).Warn("activity: macro run failed")
		}
	}()
	_ = ctx
}

func (f *FSM) postWebhook(ctx context.Context, event string) {
	if f.webhook == nil {
		return
	}
	if err := f.webhook.Post(ctx, event); err != nil {
		f.log.WithError(err).Warn("activity: webhook post failed")
	}
}

func (f *FSM) persist(key string, value any) {
	if err := f.store.Set(key, value); err != nil {
		f.log.WithError(err).WithField("key", key).Warn("activity: persist failed")
	}
}

func (f *FSM) publishActivity(passive bool) {
	f.bus.Publish(eventbus.Event{
		Timestamp: time.Now(),
		Kind:      "activity",
		Data: map[string]any{
			"activity": string(f.snapshot.Activity),
			"passive":  passive,
		},
	})
}

func (f *FSM) publishSnapshot() {
	f.bus.Publish(eventbus.Event{
		Timestamp: time.Now(),
		Kind:      "state",
		Data: map[string]any{
			"activity":        string(f.snapshot.Activity),
			"tv_power":        f.snapshot.TVPower,
			"speaker_source":  f.snapshot.SpeakerSource,
			"speaker_volume":  f.snapshot.SpeakerVolume,
			"speaker_mute":    f.snapshot.SpeakerMute,
			"music_state":     string(f.snapshot.MusicState),
			"music_player_id": f.snapshot.MusicPlayerID,
			"radio_index":     f.snapshot.RadioIndex,
		},
	})
}
