package session

import (
	"testing"
	"time"

	"github.com/sfomuseum/go-memories"
)

func TestSession(t *testing.T) {

	s, err := New()

	if err != nil {
		t.Fatalf("Failed to create session, %v", err)
	}

	if s.Id() == "" {
		t.Fatalf("Expected a session identifier")
	}

	s.Begin(3)

	m_2021 := &memories.Memory{Date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}
	m_2022 := &memories.Memory{Date: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}

	s.SetProcessing("a.jpg")
	s.RecordSuccess(m_2021, 100)
	s.RecordSuccess(m_2022, 200)
	s.RecordFailure(m_2021)

	snap := s.Snapshot()

	if snap.Total != 3 {
		t.Fatalf("Expected total 3, got %d", snap.Total)
	}

	if snap.Completed != 3 {
		t.Fatalf("Expected 3 completed, got %d", snap.Completed)
	}

	if snap.Failed != 1 {
		t.Fatalf("Expected 1 failed, got %d", snap.Failed)
	}

	if snap.Bytes != 300 {
		t.Fatalf("Expected 300 bytes, got %d", snap.Bytes)
	}

	if snap.CurrentlyProcessing != "a.jpg" {
		t.Fatalf("Expected a.jpg, got %s", snap.CurrentlyProcessing)
	}

	year_bytes := s.YearBytes()

	if year_bytes[2021] != 100 || year_bytes[2022] != 200 {
		t.Fatalf("Unexpected per-year sizes, %v", year_bytes)
	}
}

func TestSessionCancel(t *testing.T) {

	s, err := New()

	if err != nil {
		t.Fatalf("Failed to create session, %v", err)
	}

	if s.Cancelled() {
		t.Fatalf("Expected a fresh session not to be cancelled")
	}

	s.Cancel()

	if !s.Cancelled() {
		t.Fatalf("Expected the session to be cancelled")
	}

	s.Reset()

	if s.Cancelled() {
		t.Fatalf("Expected reset to clear the cancellation flag")
	}

	snap := s.Snapshot()

	if snap.Completed != 0 || snap.Total != 0 {
		t.Fatalf("Expected reset counters, got %d of %d", snap.Completed, snap.Total)
	}
}

func TestSessionSubscribe(t *testing.T) {

	s, err := New()

	if err != nil {
		t.Fatalf("Failed to create session, %v", err)
	}

	s.Begin(2)

	ch := s.Subscribe(2)

	m := &memories.Memory{Date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}

	s.RecordSuccess(m, 50)
	s.RecordFailure(m)

	first := <-ch

	if first.Completed != 1 {
		t.Fatalf("Expected the first snapshot at 1 completed, got %d", first.Completed)
	}

	second := <-ch

	if second.Completed != 2 || second.Failed != 1 {
		t.Fatalf("Expected the second snapshot at 2 completed and 1 failed, got %d and %d", second.Completed, second.Failed)
	}
}

func TestSessionSubscribeSlowConsumer(t *testing.T) {

	s, err := New()

	if err != nil {
		t.Fatalf("Failed to create session, %v", err)
	}

	s.Begin(10)

	ch := s.Subscribe(1)

	m := &memories.Memory{Date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}

	// Nothing reads the channel; notifications past the buffer are dropped
	// rather than blocking the pipeline.

	for i := 0; i < 10; i++ {
		s.RecordSuccess(m, 1)
	}

	if len(ch) != 1 {
		t.Fatalf("Expected a single buffered snapshot, got %d", len(ch))
	}
}
