// Package answer stores user answers keyed by instance id.
package answer

import (
	"time"
)

// TimeFormat is the timestamp layout of answers (ISO-8601, UTC, milliseconds).
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Answer is a stored value with the time it was set.
type Answer struct {
	Value     Value  `json:"value"`
	Timestamp string `json:"timestamp"`
}

// Change describes one mutation of the store. InstanceID is empty when the
// whole store was replaced.
type Change struct {
	InstanceID string
	Removed    bool
}

// Store maps instance ids to answers. It knows nothing about tasks and does
// not validate values. It is not safe for concurrent use.
type Store struct {
	answers   map[string]Answer
	now       func() time.Time
	listeners []func(Change)
}

// NewStore creates an empty store. A nil clock uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{answers: make(map[string]Answer), now: now}
}

// Subscribe registers fn to be called after every mutation.
func (s *Store) Subscribe(fn func(Change)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emit(c Change) {
	for _, fn := range s.listeners {
		fn(c)
	}
}

// Set overwrites the answer for id and stamps the current time.
func (s *Store) Set(id string, v Value) {
	s.answers[id] = Answer{Value: v, Timestamp: s.now().UTC().Format(TimeFormat)}
	s.emit(Change{InstanceID: id})
}

// Get returns the value for id. Unanswered ids and empty texts both yield
// null; use Lookup to tell them apart.
func (s *Store) Get(id string) Value {
	a, ok := s.answers[id]
	if !ok || a.Value.Empty() {
		return Null()
	}
	return a.Value
}

// Lookup returns the stored answer and whether one exists.
func (s *Store) Lookup(id string) (Answer, bool) {
	a, ok := s.answers[id]
	return a, ok
}

// Remove deletes the answer for id.
func (s *Store) Remove(id string) {
	if _, ok := s.answers[id]; !ok {
		return
	}
	delete(s.answers, id)
	s.emit(Change{InstanceID: id, Removed: true})
}

// RemoveAll deletes the answers for ids.
func (s *Store) RemoveAll(ids []string) {
	for _, id := range ids {
		s.Remove(id)
	}
}

// Len returns the number of stored answers.
func (s *Store) Len() int {
	return len(s.answers)
}

// All returns a copy of all answers.
func (s *Store) All() map[string]Answer {
	out := make(map[string]Answer, len(s.answers))
	for id, a := range s.answers {
		out[id] = a
	}
	return out
}

// Replace installs answers wholesale.
func (s *Store) Replace(answers map[string]Answer) {
	s.answers = make(map[string]Answer, len(answers))
	for id, a := range answers {
		s.answers[id] = a
	}
	s.emit(Change{})
}

// Prune removes every answer whose id keep rejects and returns the removed ids.
func (s *Store) Prune(keep func(id string) bool) []string {
	var removed []string
	for id := range s.answers {
		if !keep(id) {
			removed = append(removed, id)
		}
	}
	s.RemoveAll(removed)
	return removed
}
