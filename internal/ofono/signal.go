package ofono

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"

	"bluetooth-hsp/internal/callstate"
)

// EventKind identifies a decoded telephony bus signal.
type EventKind int

const (
	// ServiceAppeared: oFono claimed its bus name.
	ServiceAppeared EventKind = iota
	// ServiceVanished: oFono left the bus; all call state is stale.
	ServiceVanished
	// CallAdded: a new call object exists.
	CallAdded
	// CallStateChanged: an existing call changed its State property.
	CallStateChanged
)

// Event is one decoded signal. Path and State are set for the call events.
type Event struct {
	Kind  EventKind
	Path  string
	State callstate.State
}

// The three match rules the gateway registers: oFono coming and going, call
// state changes, and new calls.
var matchOptions = [][]dbus.MatchOption{
	{
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchOption("arg0", Service),
	},
	{
		dbus.WithMatchInterface(voiceCallIface),
		dbus.WithMatchMember("PropertyChanged"),
	},
	{
		dbus.WithMatchInterface(voiceCallManagerIface),
		dbus.WithMatchMember("CallAdded"),
	},
}

// AddMatches subscribes bus to the signals ParseSignal understands.
func AddMatches(bus *dbus.Conn) error {
	for _, opts := range matchOptions {
		if err := bus.AddMatchSignal(opts...); err != nil {
			return fmt.Errorf("ofono: add signal match: %w", err)
		}
	}
	return nil
}

// RemoveMatches undoes AddMatches. Best effort.
func RemoveMatches(bus *dbus.Conn) {
	for _, opts := range matchOptions {
		_ = bus.RemoveMatchSignal(opts...)
	}
}

// ParseSignal decodes one bus signal into a telephony event. The second
// return is false for signals that are not oFono's and for bodies that do not
// match the expected signature; such signals are dropped where received.
func ParseSignal(sig *dbus.Signal) (Event, bool) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(sig.Body) != 3 {
			return Event{}, false
		}
		name, ok0 := sig.Body[0].(string)
		oldOwner, ok1 := sig.Body[1].(string)
		newOwner, ok2 := sig.Body[2].(string)
		if !ok0 || !ok1 || !ok2 || name != Service {
			return Event{}, false
		}
		// An owner handoff counts as a disappearance: the calls the old
		// owner reported are stale either way.
		if oldOwner != "" {
			return Event{Kind: ServiceVanished}, true
		}
		if newOwner != "" {
			return Event{Kind: ServiceAppeared}, true
		}
		return Event{}, false

	case voiceCallIface + ".PropertyChanged":
		if len(sig.Body) != 2 {
			return Event{}, false
		}
		prop, ok := sig.Body[0].(string)
		if !ok || prop != "State" {
			return Event{}, false
		}
		v, ok := sig.Body[1].(dbus.Variant)
		if !ok {
			return Event{}, false
		}
		s, ok := v.Value().(string)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: CallStateChanged, Path: string(sig.Path), State: callstate.ParseState(s)}, true

	case voiceCallManagerIface + ".CallAdded":
		if len(sig.Body) != 2 {
			return Event{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return Event{}, false
		}
		props, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: CallAdded, Path: string(path), State: StateFromProps(props)}, true
	}
	return Event{}, false
}
