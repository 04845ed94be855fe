// Package ofono talks to the oFono modem manager over the system bus: call
// enumeration, call-state signals, and the voice-call actions the headset
// button can trigger.
package ofono

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	dbus "github.com/godbus/dbus/v5"

	"bluetooth-hsp/internal/callstate"
)

const (
	// Service is the well-known bus name of the modem manager.
	Service = "org.ofono"

	managerIface          = Service + ".Manager"
	voiceCallIface        = Service + ".VoiceCall"
	voiceCallManagerIface = Service + ".VoiceCallManager"
)

// Client issues telephony requests on behalf of one headset session.
type Client struct {
	bus *dbus.Conn
	log *slog.Logger
}

func NewClient(bus *dbus.Conn, log *slog.Logger) *Client {
	return &Client{bus: bus, log: log.With("component", "ofono")}
}

// CallInfo is one call extracted from a GetCalls reply or a CallAdded signal.
type CallInfo struct {
	Path  string
	State callstate.State
}

// ModemsReply carries the outcome of one GetModems request. Err covers bus
// error replies and malformed reply shapes; the caller abandons that request
// and nothing else.
type ModemsReply struct {
	Modems []string
	Err    error
}

// CallsReply carries the outcome of one per-modem GetCalls request.
type CallsReply struct {
	Modem string
	Calls []CallInfo
	Err   error
}

// pathProps matches the a(oa{sv}) reply element shape shared by GetModems and
// GetCalls.
type pathProps struct {
	Path  dbus.ObjectPath
	Props map[string]dbus.Variant
}

// RequestModems asks the manager for all modems. The reply is decoded off the
// pending call and delivered on reply, unless ctx is cancelled first: a
// cancelled request delivers nothing at all.
func (c *Client) RequestModems(ctx context.Context, reply chan<- ModemsReply) {
	call := c.bus.Object(Service, "/").GoWithContext(ctx, managerIface+".GetModems", 0, make(chan *dbus.Call, 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case done := <-call.Done:
			var out ModemsReply
			var rows []pathProps
			if err := done.Store(&rows); err != nil {
				out.Err = fmt.Errorf("ofono: GetModems: %w", err)
			}
			for _, r := range rows {
				out.Modems = append(out.Modems, string(r.Path))
			}
			select {
			case reply <- out:
			case <-ctx.Done():
			}
		}
	}()
}

// RequestCalls asks one modem's voice-call manager for its calls, with the
// same delivery and cancellation contract as RequestModems.
func (c *Client) RequestCalls(ctx context.Context, modem string, reply chan<- CallsReply) {
	obj := c.bus.Object(Service, dbus.ObjectPath(modem))
	call := obj.GoWithContext(ctx, voiceCallManagerIface+".GetCalls", 0, make(chan *dbus.Call, 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case done := <-call.Done:
			out := CallsReply{Modem: modem}
			var rows []pathProps
			if err := done.Store(&rows); err != nil {
				out.Err = fmt.Errorf("ofono: GetCalls(%s): %w", modem, err)
			}
			for _, r := range rows {
				out.Calls = append(out.Calls, CallInfo{Path: string(r.Path), State: StateFromProps(r.Props)})
			}
			select {
			case reply <- out:
			case <-ctx.Done():
			}
		}
	}()
}

// StateFromProps extracts the call state from an a{sv} property set. Only the
// State entry matters at this layer; anything else is someone else's concern.
func StateFromProps(props map[string]dbus.Variant) callstate.State {
	if v, ok := props["State"]; ok {
		if s, ok := v.Value().(string); ok {
			return callstate.ParseState(s)
		}
	}
	return callstate.Other
}

// Answer accepts the call. One-way send: the backend never waits for
// voice-call action replies.
func (c *Client) Answer(path string) { c.callAction(path, "Answer") }

// Hangup ends the call.
func (c *Client) Hangup(path string) { c.callAction(path, "Hangup") }

func (c *Client) callAction(path, method string) {
	c.log.Debug("voice call action", "method", method, "call", path)
	c.bus.Object(Service, dbus.ObjectPath(path)).Call(voiceCallIface+"."+method, dbus.FlagNoReplyExpected)
}

// HoldAndAnswer puts the active calls on hold and answers the waiting one.
// Modem-level operation, addressed to the call's owning modem; a call path
// with no modem prefix makes it a no-op.
func (c *Client) HoldAndAnswer(path string) { c.modemAction(path, "HoldAndAnswer") }

// SwapCalls exchanges the active and held calls on the call's modem.
func (c *Client) SwapCalls(path string) { c.modemAction(path, "SwapCalls") }

func (c *Client) modemAction(path, method string) {
	modem, ok := ModemPath(path)
	if !ok {
		c.log.Error("call path has no modem owner", "method", method, "call", path)
		return
	}
	c.log.Debug("voice call manager action", "method", method, "modem", modem, "call", path)
	c.bus.Object(Service, dbus.ObjectPath(modem)).Call(voiceCallManagerIface+"."+method, dbus.FlagNoReplyExpected)
}

// ModemPath derives the owning modem from a call path by stripping the final
// path component: /org/ofono/modem0/voicecall01 belongs to /org/ofono/modem0.
// A path with only the leading separator has no owner.
func ModemPath(callPath string) (string, bool) {
	i := strings.LastIndex(callPath, "/")
	if i < 1 {
		return "", false
	}
	return callPath[:i], true
}
