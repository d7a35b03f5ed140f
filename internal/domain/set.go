package domain

import "sort"

// SubscriberSet is a set of subscriber IDs. The zero value is not usable;
// construct with NewSubscriberSet.
type SubscriberSet map[string]struct{}

// NewSubscriberSet returns a set holding ids.
func NewSubscriberSet(ids ...string) SubscriberSet {
	s := make(SubscriberSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. Empty IDs are ignored.
func (s SubscriberSet) Add(id string) {
	if id == "" {
		return
	}
	s[id] = struct{}{}
}

// Contains reports membership.
func (s SubscriberSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the cardinality.
func (s SubscriberSet) Len() int { return len(s) }

// Union adds every member of other to s.
func (s SubscriberSet) Union(other SubscriberSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Subtract removes every member of other from s.
func (s SubscriberSet) Subtract(other SubscriberSet) {
	for id := range other {
		delete(s, id)
	}
}

// IDs returns the members in ascending order.
func (s SubscriberSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
