package hid

import (
	"context"
	"time"

	"github.com/roomhub/hub/internal/hidtables"
)

// Sender is the minimum BLE transport surface HidClient needs: send a
// keyboard or consumer report, gated by the transport's own readiness.
// BtleController's HidTransport satisfies this.
type Sender interface {
	SendKeyboard(report [KeyboardReportLen]byte) error
	SendConsumer(report [ConsumerReportLen]byte) error
}

// MacroStep is either a wait ({WaitMs>0}) or a tap ({Usage,Code} set),
// per spec §3's macro-step data model.
type MacroStep struct {
	WaitMs int

	Usage   Usage
	Code    string
	HoldMs  int
}

func (s MacroStep) isWait() bool { return s.WaitMs > 0 }

// Client is the stateless encoder described in spec §4.3: it resolves
// {usage, code} through the loaded tables and forwards byte reports to
// a Sender. It holds no connection state of its own.
type Client struct {
	tables *hidtables.Tables
	sender Sender
}

// NewClient builds an encoder bound to tables and sender.
func NewClient(tables *hidtables.Tables, sender Sender) *Client {
	return &Client{tables: tables, sender: sender}
}

// KeyDown encodes and sends the down report for (usage, code). Unknown
// keyboard codes emit an all-zero report rather than erroring (spec
// §4.3: "suppresses prior presses rather than crashing"). Unknown
// consumer codes are skipped entirely.
func (c *Client) KeyDown(usage Usage, code string) error {
	switch usage {
	case Keyboard:
		u, ok := c.tables.KeyboardUsage(code)
		if !ok {
			return c.sender.SendKeyboard(KeyboardRelease)
		}
		return c.sender.SendKeyboard(EncodeKeyboard(u))
	case Consumer:
		u, ok := c.tables.ConsumerUsage(code)
		if !ok {
			return nil
		}
		return c.sender.SendConsumer(EncodeConsumer(u))
	default:
		return nil
	}
}

// KeyUp sends the all-zero release report on the channel for usage.
func (c *Client) KeyUp(usage Usage, code string) error {
	switch usage {
	case Keyboard:
		return c.sender.SendKeyboard(KeyboardRelease)
	case Consumer:
		return c.sender.SendConsumer(ConsumerRelease)
	default:
		return nil
	}
}

// SendKey performs a down/sleep/up tap with the given hold duration
// (default 40ms per spec §4.2's sendKey signature).
func (c *Client) SendKey(ctx context.Context, usage Usage, code string, holdMs int) error {
	if holdMs <= 0 {
		holdMs = 40
	}
	if err := c.KeyDown(usage, code); err != nil {
		return err
	}
	if err := sleepCtx(ctx, time.Duration(holdMs)*time.Millisecond); err != nil {
		return err
	}
	return c.KeyUp(usage, code)
}

// RunMacro executes an ordered list of steps (spec §4.2/§3): between
// consecutive tap steps it sleeps interDelayMs; wait_ms steps sleep
// their own value; there is no gap before the first step.
func (c *Client) RunMacro(ctx context.Context, steps []MacroStep, defaultHoldMs, interDelayMs int) error {
	if defaultHoldMs <= 0 {
		defaultHoldMs = 40
	}
	if interDelayMs <= 0 {
		interDelayMs = 400
	}
	prevWasTap := false
	for i, step := range steps {
		if step.isWait() {
			if err := sleepCtx(ctx, time.Duration(step.WaitMs)*time.Millisecond); err != nil {
				return err
			}
			prevWasTap = false
			continue
		}
		if i > 0 && prevWasTap {
			if err := sleepCtx(ctx, time.Duration(interDelayMs)*time.Millisecond); err != nil {
				return err
			}
		}
		hold := step.HoldMs
		if hold <= 0 {
			hold = defaultHoldMs
		}
		if err := c.SendKey(ctx, step.Usage, step.Code, hold); err != nil {
			return err
		}
		prevWasTap = true
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
