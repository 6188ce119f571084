// Command hubd is the room-media hub daemon: it wires the BLE HID
// transport, USB remote input, keymap dispatcher, activity FSM, the
// speaker/music/TV adapters, the home-automation bus, and the webhook
// poster into one long-running process, then runs until a termination
// signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/roomhub/hub/internal/activity"
	"github.com/roomhub/hub/internal/adapters/music"
	"github.com/roomhub/hub/internal/adapters/speaker"
	"github.com/roomhub/hub/internal/adapters/tv"
	"github.com/roomhub/hub/internal/btctl"
	"github.com/roomhub/hub/internal/config"
	"github.com/roomhub/hub/internal/dispatch"
	"github.com/roomhub/hub/internal/eventbus"
	"github.com/roomhub/hub/internal/habus"
	"github.com/roomhub/hub/internal/hid"
	"github.com/roomhub/hub/internal/hidtables"
	"github.com/roomhub/hub/internal/hidtransport"
	"github.com/roomhub/hub/internal/inputreader"
	"github.com/roomhub/hub/internal/keymap"
	"github.com/roomhub/hub/internal/radiodial"
	"github.com/roomhub/hub/internal/store"
	"github.com/roomhub/hub/internal/webhook"
)

func main() {
	log := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("hubd: config")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	entry := log.WithField("component", "hubd")

	tablesPath := resolvePath(os.Getenv("HID_TABLES_PATH"), "data/hid_tables.yaml")
	tables, err := hidtables.Load(tablesPath)
	if err != nil {
		entry.WithError(err).Fatal("hubd: loading hid tables")
	}

	keymapPath := resolvePath(cfg.KeymapPath, "data/keymap.json")
	doc, err := keymap.Load(keymapPath)
	if err != nil {
		entry.WithError(err).Fatal("hubd: loading keymap")
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		entry.WithError(err).Fatal("hubd: opening store")
	}

	bus := eventbus.New()
	radio := radiodial.New()

	newTransport := func() btctl.Transport {
		return hidtransport.New(hidtransport.Config{
			AdapterName:       cfg.BLEAdapter,
			LocalName:         cfg.BLEDeviceName,
			SendBothKeyboards: false,
		}, log.WithField("component", "hidtransport"))
	}
	ble := btctl.New(newTransport, tables, log.WithField("component", "btctl"))

	var spk *speaker.Adapter
	if cfg.KEFHost != "" {
		spk, err = speaker.New(cfg.KEFHost, log.WithField("component", "speaker"))
		if err != nil {
			entry.WithError(err).Warn("hubd: speaker unavailable")
		}
	}
	musicAdapter := music.New(cfg.MAURL, "")
	var tvMonitor *tv.Monitor
	if cfg.TVHost != "" {
		tvMonitor = tv.New(cfg.TVHost, 0, nil)
	}
	webhookPoster := webhook.New(cfg.HAWebhookURL, cfg.RoomName)

	defaults := activity.Defaults{
		WatchVolume:   cfg.DefWatchVolume,
		ListenVolume:  cfg.DefListenVolume,
		ListenStation: cfg.DefListenStation,
	}

	var speakerIface activity.Speaker
	if spk != nil {
		speakerIface = spk
	}

	fsm := activity.New(defaults, speakerIface, musicAdapter, ble, webhookPoster, radio, st, bus, log.WithField("component", "activity"))
	fsm.Restore()

	if spk != nil {
		spk.OnChange(func(snap speaker.Snapshot) {
			fsm.OnSpeakerChange(context.Background(), activity.SpeakerSnapshot{
				Source: snap.Source,
				Volume: snap.Volume,
				Mute:   snap.Mute,
			})
		})
	}
	musicAdapter.OnChange(func(snap music.Snapshot) {
		fsm.OnMusicChange(context.Background(), activity.MusicSnapshot{
			State:    activity.MusicState(snap.State),
			PlayerID: snap.PlayerID,
		})
	})
	if tvMonitor != nil {
		tvMonitor.OnChange(func(p tv.Power) {
			fsm.OnTvPower(context.Background(), string(p))
		})
	}

	haClient := habus.New(habus.Config{
		URL:            cfg.HAWSURL,
		Token:          cfg.HAToken,
		ActivityEntity: cfg.HAActivity,
		CmdEventName:   cfg.HACmdEvent,
	}, func(state string) {
		applyRemoteActivity(fsm, state, entry)
	}, func(payload map[string]any) {
		applyRemoteCommand(context.Background(), ble, fsm, payload, entry)
	}, log.WithField("component", "habus"))

	sink := dispatch.Sink(func(ctx context.Context, text string, extras map[string]any) bool {
		return applyDispatchEmit(ctx, fsm, haClient, text, extras, entry)
	})
	disp := dispatch.New(doc, ble, sink, dispatch.Timing{
		InitialDelay: cfg.RepeatInitial(),
		Rate:         cfg.RepeatRate(),
	}, log.WithField("component", "dispatch"))

	reader := inputreader.New(inputreader.Config{
		DevicePath:      cfg.USBReceiver,
		Grab:            cfg.USBGrab,
		Debug:           cfg.DebugInput,
		DebugUnknown:    cfg.DebugInputUnk,
	}, doc, func(remKey string, down bool) error {
		return disp.OnEdge(remKey, down)
	}, log.WithField("component", "inputreader"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ble.Start(ctx); err != nil {
		entry.WithError(err).Warn("hubd: ble controller start")
	}
	if cfg.HAWSURL != "" {
		go haClient.Run(ctx)
	}
	go reader.Run(ctx)
	if spk != nil {
		go spk.PollLoop(ctx, 0)
	}
	go musicAdapter.PollLoop(ctx, 0)
	if tvMonitor != nil {
		go tvMonitor.PollLoop(ctx, 0)
	}

	entry.Info("hubd: ready")
	<-ctx.Done()
	entry.Info("hubd: shutting down")

	reader.Stop()
	haClient.Stop()
	ble.Stop()
}

// resolvePath follows spec §4.5's candidate order for config.KeymapPath
// already folded in by the caller: an explicit path wins, otherwise the
// packaged default relative to the working directory.
func resolvePath(configured, packagedDefault string) string {
	if configured != "" {
		return configured
	}
	if abs, err := filepath.Abs(packagedDefault); err == nil {
		return abs
	}
	return packagedDefault
}

// applyRemoteActivity resyncs local activity state from the
// home-automation bus's activity entity after every (re)connect.
func applyRemoteActivity(fsm *activity.FSM, state string, log *logrus.Entry) {
	ctx := context.Background()
	switch state {
	case string(activity.ActivityWatch):
		if fsm.Snapshot().Activity != activity.ActivityWatch {
			fsm.CmdWatch(ctx)
		}
	case string(activity.ActivityListen):
		if fsm.Snapshot().Activity != activity.ActivityListen {
			fsm.CmdListen(ctx, "")
		}
	case string(activity.ActivityOff):
		if fsm.Snapshot().Activity != activity.ActivityOff {
			fsm.CmdPowerOff(ctx)
		}
	default:
		log.WithField("state", state).Debug("habus: unrecognized activity state")
	}
}

// applyRemoteCommand decodes the two inbound command shapes documented
// in spec §6: a single BLE tap or a named macro playback. Unknown
// shapes, unknown macro names, and timing fields that are present but
// not a positive number are dropped silently.
func applyRemoteCommand(ctx context.Context, ble *btctl.Controller, fsm *activity.FSM, payload map[string]any, log *logrus.Entry) {
	text, _ := payload["text"].(string)
	switch text {
	case "ble_key":
		usage, _ := payload["usage"].(string)
		code, _ := payload["code"].(string)
		if usage == "" || code == "" {
			return
		}
		holdMs := 40
		if raw, present := payload["hold_ms"]; present {
			v, ok := raw.(float64)
			if !ok || v <= 0 {
				return
			}
			holdMs = int(v)
		}
		if err := ble.SendKey(ctx, hid.Usage(usage), code, holdMs); err != nil {
			log.WithError(err).Debug("habus: ble_key command failed")
		}
	case "macro":
		name, _ := payload["name"].(string)
		if name == "" {
			return
		}
		tapMs := 40
		if raw, present := payload["tap_ms"]; present {
			v, ok := raw.(float64)
			if !ok || v <= 0 {
				return
			}
			tapMs = int(v)
		}
		interDelayMs := 400
		if raw, present := payload["inter_delay_ms"]; present {
			v, ok := raw.(float64)
			if !ok || v <= 0 {
				return
			}
			interDelayMs = int(v)
		}
		steps, ok := namedMacro(name)
		if !ok {
			return
		}
		if err := ble.RunMacro(ctx, steps, tapMs, interDelayMs); err != nil {
			log.WithError(err).Debug("habus: macro command failed")
		}
	}
}

// namedMacro resolves the fixed macro names the inbound control-plane
// "macro" command accepts; the step lists match the activity FSM's
// power-on/power-off macros.
func namedMacro(name string) ([]hid.MacroStep, bool) {
	switch name {
	case "power_on":
		return []hid.MacroStep{
			{Usage: hid.Consumer, Code: "power", HoldMs: 40},
			{WaitMs: 3000},
			{Usage: hid.Consumer, Code: "menu", HoldMs: 40},
		}, true
	case "power_off":
		return []hid.MacroStep{
			{Usage: hid.Consumer, Code: "stop", HoldMs: 40},
			{Usage: hid.Consumer, Code: "ac_home", HoldMs: 40},
			{Usage: hid.Consumer, Code: "ac_home", HoldMs: 40},
			{Usage: hid.Consumer, Code: "menu", HoldMs: 40},
			{Usage: hid.Consumer, Code: "menu", HoldMs: 40},
			{Usage: hid.Consumer, Code: "power", HoldMs: 2000},
		}, true
	default:
		return nil, false
	}
}

// applyDispatchEmit is the dispatcher's control-plane sink: it
// interprets a handful of well-known logical commands directly against
// the FSM, and forwards everything else to the home-automation bus
// as-is, matching the keymap's mix of local commands (volume, media,
// radio, activity) and remote-only text.
func applyDispatchEmit(ctx context.Context, fsm *activity.FSM, ha *habus.Client, text string, extras map[string]any, log *logrus.Entry) bool {
	switch text {
	case "cmd_watch":
		fsm.CmdWatch(ctx)
		return true
	case "cmd_listen":
		station, _ := extras["station"].(string)
		fsm.CmdListen(ctx, station)
		return true
	case "cmd_power_off":
		fsm.CmdPowerOff(ctx)
		return true
	case "media":
		command, _ := extras["command"].(string)
		if command == "" {
			return false
		}
		if _, err := fsm.RouteMedia(ctx, command); err != nil {
			log.WithError(err).Debug("dispatch: media routing failed")
			return false
		}
		return true
	case "volume":
		direction, _ := extras["direction"].(string)
		delta := 2
		if direction == "down" {
			delta = -2
		}
		if err := fsm.ChangeVolume(ctx, delta); err != nil {
			log.WithError(err).Debug("dispatch: volume change failed")
			return false
		}
		return true
	case "mute_toggle":
		if err := fsm.ToggleMute(ctx); err != nil {
			log.WithError(err).Debug("dispatch: mute toggle failed")
			return false
		}
		return true
	case "radio":
		command, _ := extras["command"].(string)
		if _, err := fsm.RadioStep(ctx, command); err != nil {
			log.WithError(err).Debug("dispatch: radio step failed")
			return false
		}
		return true
	}
	if ha == nil {
		return false
	}
	return ha.SendCmd(ctx, text, extras)
}
