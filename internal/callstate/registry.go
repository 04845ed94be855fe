// Package callstate models the voice calls known to the gateway and derives
// the headset actions from them.
//
// The registry is owned by a single headset session and is not safe for
// concurrent use; the session serializes all access on its event loop.
package callstate

// State is the lifecycle state of a voice call as reported by the telephony
// service.
type State int

const (
	Other State = iota
	Incoming
	Waiting
	Active
	Held
	Disconnected
)

// ParseState maps an oFono call state string. Unrecognized states (alerting,
// dialing, ...) fold to Other, which the registry treats as active-like.
func ParseState(s string) State {
	switch s {
	case "incoming":
		return Incoming
	case "waiting":
		return Waiting
	case "active":
		return Active
	case "held":
		return Held
	case "disconnected":
		return Disconnected
	}
	return Other
}

func (s State) String() string {
	switch s {
	case Incoming:
		return "incoming"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Held:
		return "held"
	case Disconnected:
		return "disconnected"
	}
	return "other"
}

// ActionKind is a telephony operation the headset button can trigger.
type ActionKind int

const (
	Answer ActionKind = iota
	HoldAndAnswer
	Hangup
	SwapCalls
)

func (k ActionKind) String() string {
	switch k {
	case Answer:
		return "Answer"
	case HoldAndAnswer:
		return "HoldAndAnswer"
	case Hangup:
		return "Hangup"
	case SwapCalls:
		return "SwapCalls"
	}
	return "?"
}

// Action pairs an operation with the call it targets.
type Action struct {
	Kind ActionKind
	Path string
}

// Registry tracks every call the telephony service has reported: the full
// set, the insertion-ordered active and held subsets, and the at most one
// incoming call. A call is never in both active and held, and the incoming
// call is in neither.
type Registry struct {
	all      *orderedSet
	active   *orderedSet
	held     *orderedSet
	incoming string
}

func NewRegistry() *Registry {
	return &Registry{
		all:    newOrderedSet(),
		active: newOrderedSet(),
		held:   newOrderedSet(),
	}
}

// Observe records a call seen through enumeration or an add notification.
// Incoming-like calls become the incoming call if that slot is free; anything
// else lands at the end of the active set. The return value is true when the
// headset should start ring indication: the call is incoming-like and the
// only call known.
func (r *Registry) Observe(path string, st State) (startRing bool) {
	r.all.Add(path)
	if st == Incoming || st == Waiting {
		if r.incoming == "" && !r.active.Has(path) && !r.held.Has(path) {
			r.incoming = path
		}
		return r.all.Len() == 1
	}
	if r.incoming == path {
		r.incoming = ""
	}
	r.held.Remove(path)
	r.active.Remove(path)
	r.active.Add(path)
	return false
}

// Transition applies a state-change notification. The caller must stop ring
// indication after every transition, whatever the branch; ringing is re-armed
// only through a fresh incoming Observe.
func (r *Registry) Transition(path string, st State) {
	switch st {
	case Active:
		if r.incoming == path {
			r.incoming = ""
		}
		r.held.Remove(path)
		r.active.Remove(path)
		if r.all.Has(path) {
			r.active.Add(path)
		}
	case Held:
		r.active.Remove(path)
		if r.all.Has(path) {
			r.held.Add(path)
		}
	case Disconnected:
		if r.incoming == path {
			r.incoming = ""
		}
		r.active.Remove(path)
		r.held.Remove(path)
		r.all.Remove(path)
	}
}

// Clear forgets every call; used when the telephony service disappears.
func (r *Registry) Clear() {
	r.all.Clear()
	r.active.Clear()
	r.held.Clear()
	r.incoming = ""
}

// ButtonAction derives what the headset button should do from the current
// sets. At most two actions come back; the two-action case hangs up the last
// active call and swaps the last held one in. "Last" is the most recently
// inserted call of the set.
func (r *Registry) ButtonAction() []Action {
	switch {
	case r.incoming != "":
		if r.active.Len() > 0 {
			return []Action{{HoldAndAnswer, r.incoming}}
		}
		return []Action{{Answer, r.incoming}}
	case r.active.Len() > 0:
		last, _ := r.active.Last()
		acts := []Action{{Hangup, last}}
		if held, ok := r.held.Last(); ok {
			acts = append(acts, Action{SwapCalls, held})
		}
		return acts
	case r.held.Len() > 0:
		last, _ := r.held.Last()
		return []Action{{Hangup, last}}
	}
	return nil
}

// Incoming returns the incoming call path, or "".
func (r *Registry) Incoming() string { return r.incoming }

// Calls returns every known call in insertion order.
func (r *Registry) Calls() []string { return r.all.Items() }

// ActiveCalls returns the active subset in insertion order.
func (r *Registry) ActiveCalls() []string { return r.active.Items() }

// HeldCalls returns the held subset in insertion order.
func (r *Registry) HeldCalls() []string { return r.held.Items() }
