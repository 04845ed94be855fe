package callstate

import (
	"reflect"
	"testing"
)

// checkInvariants verifies the set relationships that must hold after every
// registry operation.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	all := map[string]bool{}
	for _, p := range r.Calls() {
		all[p] = true
	}
	seen := map[string]string{}
	for _, p := range r.ActiveCalls() {
		if !all[p] {
			t.Errorf("active call %q not in all_calls", p)
		}
		seen[p] = "active"
	}
	for _, p := range r.HeldCalls() {
		if !all[p] {
			t.Errorf("held call %q not in all_calls", p)
		}
		if prev, ok := seen[p]; ok {
			t.Errorf("call %q in both %s and held", p, prev)
		}
	}
	if in := r.Incoming(); in != "" {
		if !all[in] {
			t.Errorf("incoming call %q not in all_calls", in)
		}
		for _, p := range append(r.ActiveCalls(), r.HeldCalls()...) {
			if p == in {
				t.Errorf("incoming call %q also in active/held", in)
			}
		}
	}
}

func TestObserveIncomingRings(t *testing.T) {
	r := NewRegistry()
	if !r.Observe("/m0/call0", Incoming) {
		t.Error("first incoming call should start ringing")
	}
	checkInvariants(t, r)
	if r.Incoming() != "/m0/call0" {
		t.Errorf("Incoming() = %q", r.Incoming())
	}

	// A second call means the phone is already in use; no ring.
	if r.Observe("/m0/call1", Waiting) {
		t.Error("waiting call alongside another should not ring")
	}
	checkInvariants(t, r)
	if r.Incoming() != "/m0/call0" {
		t.Errorf("incoming slot must not be overwritten, got %q", r.Incoming())
	}
}

func TestObserveActiveLike(t *testing.T) {
	r := NewRegistry()
	if r.Observe("/m0/call0", Active) {
		t.Error("active call should not ring")
	}
	r.Observe("/m0/call1", Other)
	checkInvariants(t, r)
	if got := r.ActiveCalls(); !reflect.DeepEqual(got, []string{"/m0/call0", "/m0/call1"}) {
		t.Errorf("ActiveCalls() = %v", got)
	}
	// Re-observing moves the call to the end of the active set.
	r.Observe("/m0/call0", Active)
	checkInvariants(t, r)
	if got := r.ActiveCalls(); !reflect.DeepEqual(got, []string{"/m0/call1", "/m0/call0"}) {
		t.Errorf("ActiveCalls() after re-observe = %v", got)
	}
}

func TestTransitions(t *testing.T) {
	r := NewRegistry()
	r.Observe("/m0/call0", Incoming)
	checkInvariants(t, r)

	r.Transition("/m0/call0", Active)
	checkInvariants(t, r)
	if r.Incoming() != "" {
		t.Error("incoming slot should clear when the call goes active")
	}
	if got := r.ActiveCalls(); !reflect.DeepEqual(got, []string{"/m0/call0"}) {
		t.Errorf("ActiveCalls() = %v", got)
	}

	r.Transition("/m0/call0", Held)
	checkInvariants(t, r)
	if len(r.ActiveCalls()) != 0 || !reflect.DeepEqual(r.HeldCalls(), []string{"/m0/call0"}) {
		t.Errorf("active=%v held=%v", r.ActiveCalls(), r.HeldCalls())
	}

	r.Transition("/m0/call0", Disconnected)
	checkInvariants(t, r)
	if len(r.Calls()) != 0 || len(r.ActiveCalls()) != 0 || len(r.HeldCalls()) != 0 {
		t.Error("disconnected call must leave every set")
	}
}

func TestDisconnectClearsIncoming(t *testing.T) {
	r := NewRegistry()
	r.Observe("/m0/call0", Incoming)
	r.Transition("/m0/call0", Disconnected)
	checkInvariants(t, r)
	if r.Incoming() != "" {
		t.Errorf("Incoming() = %q after disconnect", r.Incoming())
	}
}

func TestTransitionUnknownCall(t *testing.T) {
	r := NewRegistry()
	r.Transition("/m0/ghost", Active)
	checkInvariants(t, r)
	if len(r.ActiveCalls()) != 0 {
		t.Error("unknown call must not enter the active set")
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	r.Observe("/m0/call0", Incoming)
	r.Observe("/m0/call1", Active)
	r.Transition("/m0/call1", Held)
	r.Clear()
	checkInvariants(t, r)
	if len(r.Calls()) != 0 || r.Incoming() != "" {
		t.Error("Clear must empty everything")
	}
}

func TestButtonAction(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry)
		want  []Action
	}{
		{
			name:  "answer incoming",
			setup: func(r *Registry) { r.Observe("/m0/a", Incoming) },
			want:  []Action{{Answer, "/m0/a"}},
		},
		{
			name: "hold and answer with an active call",
			setup: func(r *Registry) {
				r.Observe("/m0/b", Active)
				r.Observe("/m0/a", Waiting)
			},
			want: []Action{{HoldAndAnswer, "/m0/a"}},
		},
		{
			name: "hangup active then swap in held",
			setup: func(r *Registry) {
				r.Observe("/m0/b", Active)
				r.Observe("/m0/c", Active)
				r.Transition("/m0/c", Held)
			},
			want: []Action{{Hangup, "/m0/b"}, {SwapCalls, "/m0/c"}},
		},
		{
			name:  "hangup active only",
			setup: func(r *Registry) { r.Observe("/m0/b", Active) },
			want:  []Action{{Hangup, "/m0/b"}},
		},
		{
			name: "hangup held only",
			setup: func(r *Registry) {
				r.Observe("/m0/c", Active)
				r.Transition("/m0/c", Held)
			},
			want: []Action{{Hangup, "/m0/c"}},
		},
		{
			name:  "no calls, no action",
			setup: func(r *Registry) {},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			tt.setup(r)
			checkInvariants(t, r)
			if got := r.ButtonAction(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ButtonAction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestButtonActionLastWins(t *testing.T) {
	r := NewRegistry()
	r.Observe("/m0/a", Active)
	r.Observe("/m0/b", Active)
	r.Observe("/m0/c", Active)
	got := r.ButtonAction()
	want := []Action{{Hangup, "/m0/c"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ButtonAction() = %v, want %v", got, want)
	}
}

func TestParseState(t *testing.T) {
	cases := map[string]State{
		"incoming":     Incoming,
		"waiting":      Waiting,
		"active":       Active,
		"held":         Held,
		"disconnected": Disconnected,
		"alerting":     Other,
		"dialing":      Other,
		"":             Other,
	}
	for in, want := range cases {
		if got := ParseState(in); got != want {
			t.Errorf("ParseState(%q) = %v, want %v", in, got, want)
		}
	}
}
