package transition

import "github.com/dokzlo13/sunddc/internal/ddc"

// MonitorState holds the last brightness the engine wrote or read for each
// monitor, in the order monitors first joined.
type MonitorState struct {
	order  []ddc.MonitorID
	values map[ddc.MonitorID]int
}

// NewMonitorState creates an empty state.
func NewMonitorState() *MonitorState {
	return &MonitorState{values: make(map[ddc.MonitorID]int)}
}

// Get returns the last known brightness of id.
func (s *MonitorState) Get(id ddc.MonitorID) (int, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Has reports whether id is tracked.
func (s *MonitorState) Has(id ddc.MonitorID) bool {
	_, ok := s.values[id]
	return ok
}

// Set records a value, appending id to the iteration order if new.
func (s *MonitorState) Set(id ddc.MonitorID, value int) {
	if _, ok := s.values[id]; !ok {
		s.order = append(s.order, id)
	}
	s.values[id] = value
}

// Retain drops every id not present in keep.
func (s *MonitorState) Retain(keep []ddc.MonitorID) {
	set := make(map[ddc.MonitorID]bool, len(keep))
	for _, id := range keep {
		set[id] = true
	}

	order := s.order[:0]
	for _, id := range s.order {
		if set[id] {
			order = append(order, id)
			continue
		}
		delete(s.values, id)
	}
	s.order = order
}

// IDs returns tracked ids in insertion order.
func (s *MonitorState) IDs() []ddc.MonitorID {
	return append([]ddc.MonitorID(nil), s.order...)
}

// Len returns the number of tracked monitors.
func (s *MonitorState) Len() int {
	return len(s.order)
}

// Snapshot copies the current values.
func (s *MonitorState) Snapshot() map[ddc.MonitorID]int {
	out := make(map[ddc.MonitorID]int, len(s.values))
	for id, v := range s.values {
		out[id] = v
	}
	return out
}
