package conversation

// History is an append-only, chronologically ordered list of turns.
// Turns are copied on the way in and on the way out, so a turn can never be
// changed once appended.
type History struct {
	turns []Turn
}

// NewHistory returns a history seeded with the given turns.
func NewHistory(seed ...Turn) *History {
	h := &History{}
	h.Append(seed...)
	return h
}

// Append adds turns to the end of the history in the order given.
func (h *History) Append(turns ...Turn) {
	for _, t := range turns {
		h.turns = append(h.turns, t.clone())
	}
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of every turn, oldest first.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		out[i] = t.clone()
	}
	return out
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1].clone(), true
}
