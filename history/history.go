// Package history records per-memory download outcomes so the outer layers
// can surface what has already been fetched across sessions. The core
// pipeline only emits success and failure signals; nothing here feeds back
// in to processing.
package history

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/whosonfirst/go-ioutil"
	"github.com/whosonfirst/go-writer/v3"
)

// Recorder receives per-memory outcome signals.
type Recorder interface {
	RecordSuccess(context.Context, string) error
	RecordFailure(context.Context, string) error
}

// Counts is the recorded outcome tally for one memory.
type Counts struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// WriterRecorder maintains success and failure counters per memory id in a
// single JSON document, persisted through a whosonfirst/go-writer Writer
// after every update.
type WriterRecorder struct {
	Recorder

	wr   writer.Writer
	path string

	mu   sync.Mutex
	body []byte
}

// NewWriterRecorder returns a WriterRecorder persisting to 'path' using a
// Writer created from 'writer_uri'. 'seed' is the previously persisted
// document, or nil to start fresh.
func NewWriterRecorder(ctx context.Context, writer_uri string, path string, seed []byte) (*WriterRecorder, error) {

	wr, err := writer.NewWriter(ctx, writer_uri)

	if err != nil {
		return nil, fmt.Errorf("Failed to create writer for '%s', %w", writer_uri, err)
	}

	if seed == nil {
		seed = []byte("{}")
	}

	r := &WriterRecorder{
		wr:   wr,
		path: path,
		body: seed,
	}

	return r, nil
}

// RecordSuccess increments the success counter for a memory id.
func (r *WriterRecorder) RecordSuccess(ctx context.Context, id string) error {
	return r.record(ctx, id, "success")
}

// RecordFailure increments the failure counter for a memory id.
func (r *WriterRecorder) RecordFailure(ctx context.Context, id string) error {
	return r.record(ctx, id, "failure")
}

// Counts returns the recorded tally for a memory id.
func (r *WriterRecorder) Counts(id string) Counts {

	r.mu.Lock()
	defer r.mu.Unlock()

	return Counts{
		Success: gjson.GetBytes(r.body, id+".success").Int(),
		Failure: gjson.GetBytes(r.body, id+".failure").Int(),
	}
}

func (r *WriterRecorder) record(ctx context.Context, id string, outcome string) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	path := id + "." + outcome
	count := gjson.GetBytes(r.body, path).Int()

	body, err := sjson.SetBytes(r.body, path, count+1)

	if err != nil {
		return fmt.Errorf("Failed to update %s for '%s', %w", outcome, id, err)
	}

	r.body = body

	br := bytes.NewReader(r.body)
	fh, err := ioutil.NewReadSeekCloser(br)

	if err != nil {
		return fmt.Errorf("Failed to create ReadSeekCloser for history document, %w", err)
	}

	_, err = r.wr.Write(ctx, r.path, fh)

	if err != nil {
		return fmt.Errorf("Failed to write history document to '%s', %w", r.path, err)
	}

	return nil
}
