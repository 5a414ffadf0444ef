// Package session holds the mutable per-run state shared between the
// retrieval pipeline and the presentation layer: aggregate progress counters,
// the cooperative cancellation flag and the active selection context.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/aaronland/go-string/random"
	"github.com/sfomuseum/go-memories"
)

// Snapshot is a point-in-time read of session progress, safe to hand to the
// presentation layer.
type Snapshot struct {
	// The session identifier.
	Id string `json:"id"`
	// Memories that have finished processing (successfully or not).
	Completed int64 `json:"completed"`
	// Memories submitted to the pipeline for this run.
	Total int64 `json:"total"`
	// Memories that finished in the error state.
	Failed int64 `json:"failed"`
	// Cumulative output size in bytes across completed memories.
	Bytes int64 `json:"bytes"`
	// The filename of the memory most recently handed to a worker.
	CurrentlyProcessing string `json:"currently_processing,omitempty"`
	// Whether the session has been cancelled.
	Cancelled bool `json:"cancelled"`
}

// Session is the explicit session context passed by reference to the
// pipeline. Counters are updated atomically; each field has a single writer.
type Session struct {
	id string

	cancelled atomic.Bool

	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64

	// Selection is the active selection context, read-only once a run
	// starts. Used for archive path computation and output filenames.
	Selection *memories.Selection

	mu            sync.Mutex
	processing    string
	year_bytes    map[int]int64
	subscribers   []chan Snapshot
	subscribed_mu sync.Mutex
}

// New returns a Session with a random identifier.
func New() (*Session, error) {

	r_opts := random.DefaultOptions()
	r_opts.AlphaNumeric = true

	id, err := random.String(r_opts)

	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         id,
		year_bytes: make(map[int]int64),
	}

	return s, nil
}

// Id returns the session identifier.
func (s *Session) Id() string {
	return s.id
}

// Begin resets per-run counters and records the number of memories submitted
// for processing.
func (s *Session) Begin(total int) {

	s.total.Store(int64(total))
	s.completed.Store(0)
	s.failed.Store(0)
	s.bytes.Store(0)

	s.mu.Lock()
	s.processing = ""
	s.mu.Unlock()
}

// Cancel raises the cooperative cancellation flag. In-flight work finishes
// its current memory; nothing is forcibly interrupted except by the fetch
// timeout.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether the cancellation flag is raised.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Reset clears the cancellation flag and all counters, ready for a fresh run.
func (s *Session) Reset() {

	s.cancelled.Store(false)
	s.Begin(0)

	s.mu.Lock()
	s.year_bytes = make(map[int]int64)
	s.mu.Unlock()
}

// SetProcessing records the label of the memory most recently dequeued.
func (s *Session) SetProcessing(name string) {

	s.mu.Lock()
	s.processing = name
	s.mu.Unlock()
}

// RecordSuccess marks one memory complete and accounts its output size.
func (s *Session) RecordSuccess(m *memories.Memory, size int64) {

	s.completed.Add(1)
	s.bytes.Add(size)

	s.mu.Lock()
	s.year_bytes[m.Year()] = s.year_bytes[m.Year()] + size
	s.mu.Unlock()

	s.notify()
}

// RecordFailure marks one memory complete in the error state.
func (s *Session) RecordFailure(m *memories.Memory) {

	s.completed.Add(1)
	s.failed.Add(1)

	s.notify()
}

// Snapshot returns a point-in-time read of the session.
func (s *Session) Snapshot() Snapshot {

	s.mu.Lock()
	processing := s.processing
	s.mu.Unlock()

	return Snapshot{
		Id:                  s.id,
		Completed:           s.completed.Load(),
		Total:               s.total.Load(),
		Failed:              s.failed.Load(),
		Bytes:               s.bytes.Load(),
		CurrentlyProcessing: processing,
		Cancelled:           s.cancelled.Load(),
	}
}

// YearBytes returns a copy of the per-year cumulative output sizes.
func (s *Session) YearBytes() map[int]int64 {

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]int64, len(s.year_bytes))

	for y, b := range s.year_bytes {
		out[y] = b
	}

	return out
}

// Subscribe returns a channel receiving a Snapshot after each memory
// completes. Slow consumers miss intermediate snapshots rather than blocking
// the pipeline.
func (s *Session) Subscribe(buffer int) <-chan Snapshot {

	ch := make(chan Snapshot, buffer)

	s.subscribed_mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subscribed_mu.Unlock()

	return ch
}

func (s *Session) notify() {

	snap := s.Snapshot()

	s.subscribed_mu.Lock()
	defer s.subscribed_mu.Unlock()

	for _, ch := range s.subscribers {

		select {
		case ch <- snap:
		default:
			// pass
		}
	}
}
