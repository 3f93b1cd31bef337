package workflow

import "time"

// NewHistory creates an empty History started at now.
func NewHistory(now time.Time) *History {
	return &History{
		Entries:   []StepTransition{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Record appends a transition.
func (h *History) Record(dir Direction, steps []string, frontier string, ts time.Time) {
	h.Entries = append(h.Entries, StepTransition{
		Direction: dir,
		Steps:     append([]string(nil), steps...),
		Frontier:  frontier,
		Timestamp: ts,
	})
	h.UpdatedAt = ts
}

// Clone returns a deep copy of the History.
func (h *History) Clone() *History {
	c := &History{
		StartedAt: h.StartedAt,
		UpdatedAt: h.UpdatedAt,
	}
	if h.Entries != nil {
		c.Entries = make([]StepTransition, len(h.Entries))
		for i, e := range h.Entries {
			e.Steps = append([]string(nil), e.Steps...)
			c.Entries[i] = e
		}
	}
	return c
}

// Len returns the number of transitions recorded.
func (h *History) Len() int {
	return len(h.Entries)
}

// Last returns the most recent transition, or nil if none.
func (h *History) Last() *StepTransition {
	if len(h.Entries) == 0 {
		return nil
	}
	t := h.Entries[len(h.Entries)-1]
	return &t
}
