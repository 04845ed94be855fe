package callstate

// orderedSet is a string set that remembers insertion order, so "most
// recently inserted" stays well defined after arbitrary removals.
type orderedSet struct {
	order []string
	index map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]bool)}
}

// Add appends s if absent. Present entries keep their position; callers that
// want move-to-end semantics Remove first.
func (o *orderedSet) Add(s string) {
	if o.index[s] {
		return
	}
	o.index[s] = true
	o.order = append(o.order, s)
}

func (o *orderedSet) Remove(s string) {
	if !o.index[s] {
		return
	}
	delete(o.index, s)
	for i, v := range o.order {
		if v == s {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *orderedSet) Has(s string) bool { return o.index[s] }

func (o *orderedSet) Len() int { return len(o.order) }

func (o *orderedSet) Last() (string, bool) {
	if len(o.order) == 0 {
		return "", false
	}
	return o.order[len(o.order)-1], true
}

func (o *orderedSet) Clear() {
	o.order = nil
	o.index = make(map[string]bool)
}

func (o *orderedSet) Items() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}
