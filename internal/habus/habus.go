// Package habus is a resilient Home Assistant websocket client,
// grounded on the reference HAWS class: auth handshake, subscribe to a
// single activity entity via subscribe_trigger plus a custom command
// event, and a fire-and-forget send_cmd used as the dispatcher's
// control-plane sink (spec §6). The link itself is explicitly out of
// scope per spec §1; this package exists so the dispatcher and FSM
// have a real sink to exercise end to end.
package habus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OnActivity is invoked with the raw activity-entity state string
// whenever it changes (including the one-shot seed after connect).
type OnActivity func(state string)

// OnCmd is invoked with a decoded command-event payload.
type OnCmd func(payload map[string]any)

// Config configures one Client.
type Config struct {
	URL            string
	Token          string
	ActivityEntity string
	CmdEventName   string
}

// Client is the reconnecting HA websocket client.
type Client struct {
	cfg Config
	log *logrus.Entry

	onActivity OnActivity
	onCmd      OnCmd

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int
	stopCh  chan struct{}
	stopOnce sync.Once
}

// New builds an unstarted Client.
func New(cfg Config, onActivity OnActivity, onCmd OnCmd, log *logrus.Entry) *Client {
	return &Client{
		cfg:        cfg,
		log:        log,
		onActivity: onActivity,
		onCmd:      onCmd,
		nextID:     1,
		stopCh:     make(chan struct{}),
	}
}

// Run connects and reconnects with jittered exponential backoff
// (1s..60s) until ctx is cancelled or Stop is called, matching the
// reference client's start() loop.
func (c *Client) Run(ctx context.Context) {
	delay := time.Second
	const maxDelay = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.log.WithError(err).Warn("habus: connection cycle ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		factor := 0.75 + rand.Float64()*0.5
		wait := time.Duration(float64(minDuration(delay, maxDelay)) * factor)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = minDuration(delay*2, maxDelay)
	}
}

// Stop signals Run to exit and closes any open connection.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// SendCmd fires a control-plane event (dispatcher's emit sink), per
// spec §6; returns false without erroring if not currently connected.
func (c *Client) SendCmd(ctx context.Context, text string, extras map[string]any) bool {
	c.mu.Lock()
	conn := c.conn
	id := c.nextNextID()
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	data := map[string]any{"dest": "ha", "text": text}
	for k, v := range extras {
		data[k] = v
	}
	msg := map[string]any{
		"id":         id,
		"type":       "fire_event",
		"event_type": c.cfg.CmdEventName,
		"event_data": data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		c.log.WithError(err).Debug("habus: send_cmd write failed")
		return false
	}
	return true
}

func (c *Client) nextNextID() int {
	id := c.nextID
	c.nextID++
	return id
}

func (c *Client) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "habus: dial")
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.authenticate(conn); err != nil {
		return err
	}
	c.log.Info("habus: connected")

	if err := c.subscribeTrigger(conn); err != nil {
		return err
	}
	if err := c.subscribeEvents(conn); err != nil {
		return err
	}
	if err := c.seedActivity(conn); err != nil {
		return err
	}

	return c.recvLoop(conn)
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil {
		return errors.Wrap(err, "habus: auth handshake")
	}
	if hello["type"] == "auth_ok" {
		return nil
	}
	if hello["type"] != "auth_required" {
		return errors.Errorf("habus: unexpected handshake message %v", hello["type"])
	}
	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": c.cfg.Token}); err != nil {
		return errors.Wrap(err, "habus: send auth")
	}
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		return errors.Wrap(err, "habus: read auth reply")
	}
	if reply["type"] != "auth_ok" {
		return errors.Errorf("habus: auth failed: %v", reply)
	}
	return nil
}

func (c *Client) subscribeTrigger(conn *websocket.Conn) error {
	return conn.WriteJSON(map[string]any{
		"id":   c.nextNextID(),
		"type": "subscribe_trigger",
		"trigger": map[string]any{
			"platform":  "state",
			"entity_id": c.cfg.ActivityEntity,
		},
	})
}

func (c *Client) subscribeEvents(conn *websocket.Conn) error {
	return conn.WriteJSON(map[string]any{
		"id":         c.nextNextID(),
		"type":       "subscribe_events",
		"event_type": c.cfg.CmdEventName,
	})
}

func (c *Client) seedActivity(conn *websocket.Conn) error {
	reqID := c.nextNextID()
	if err := conn.WriteJSON(map[string]any{"id": reqID, "type": "get_states"}); err != nil {
		return err
	}
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg["type"] != "result" {
			continue
		}
		idVal, _ := msg["id"].(float64)
		if int(idVal) != reqID {
			continue
		}
		success, _ := msg["success"].(bool)
		if !success {
			return errors.New("habus: get_states failed")
		}
		states, _ := msg["result"].([]any)
		for _, s := range states {
			entry, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if entry["entity_id"] != c.cfg.ActivityEntity {
				continue
			}
			if state, ok := entry["state"].(string); ok && state != "" && c.onActivity != nil {
				c.onActivity(state)
			}
		}
		return nil
	}
}

func (c *Client) recvLoop(conn *websocket.Conn) error {
	for {
		select {
		case <-c.stopCh:
			return nil
		default:
		}
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "habus: read")
		}
		if msg["type"] != "event" {
			continue
		}
		event, _ := msg["event"].(map[string]any)
		c.handleEvent(event)
	}
}

func (c *Client) handleEvent(event map[string]any) {
	if event == nil {
		return
	}
	if toState := extractToState(event); toState != nil {
		if state, ok := toState["state"].(string); ok && state != "" && c.onActivity != nil {
			c.onActivity(state)
		}
		return
	}
	if eventType, _ := event["event_type"].(string); eventType == c.cfg.CmdEventName {
		data, _ := event["data"].(map[string]any)
		if c.onCmd != nil {
			c.onCmd(data)
		}
	}
}

// extractToState pulls variables.trigger.to_state out of a
// subscribe_trigger event payload, tolerating the data.trigger
// fallback shape some HA builds use.
func extractToState(event map[string]any) map[string]any {
	vars, _ := event["variables"].(map[string]any)
	trigger, _ := vars["trigger"].(map[string]any)
	if trigger == nil {
		if data, ok := event["data"].(map[string]any); ok {
			trigger, _ = data["trigger"].(map[string]any)
		}
	}
	if trigger == nil {
		return nil
	}
	toState, _ := trigger["to_state"].(map[string]any)
	return toState
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
