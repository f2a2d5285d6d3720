package telemetry

import (
	"sync"
	"testing"
	"time"
)

// recordSink captures everything a producer reports.
type recordSink struct {
	mu       sync.Mutex
	statuses []Status
	msgs     []Message
	drops    []error
}

func (s *recordSink) Telemetry(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *recordSink) Status(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *recordSink) Drop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = append(s.drops, err)
}

func (s *recordSink) snapshot() ([]Status, []Message, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...),
		append([]Message(nil), s.msgs...),
		append([]error(nil), s.drops...)
}

func (s *recordSink) lastStatus() (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return 0, false
	}
	return s.statuses[len(s.statuses)-1], true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
