// Package archive accumulates processed memory bytes under computed
// hierarchical paths and emits the final ZIP package, either streamed
// directly to a destination or assembled in memory, with fallback from the
// former to the latter.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sfomuseum/go-memories"
)

// ErrDestinationCancelled signals that the user declined to choose a
// destination. It aborts the batch cleanly and is never treated as an
// archive failure.
var ErrDestinationCancelled = errors.New("Destination selection cancelled")

// Entry is one file queued for inclusion in the archive.
type Entry struct {
	// The computed path of the entry inside the archive.
	Path string
	// The processed bytes for the entry.
	Body []byte
}

// Result describes a finalized archive.
type Result struct {
	// The output filename for the archive.
	Filename string
	// The complete archive body, when the buffered strategy produced it.
	// Nil when the archive was streamed to its destination.
	Body []byte
	// The total number of bytes written.
	Size int64
	// Whether the archive was streamed rather than buffered.
	Streamed bool
}

// Strategy is a single-shot archive output engine.
type Strategy interface {
	// Finalize writes every entry in to an archive and reports the result.
	Finalize(context.Context, []*Entry) (*Result, error)
}

// Archiver collects entries for one batch and finalizes them with a
// preferred Strategy, falling back to the buffered strategy on a structured
// failure.
type Archiver struct {
	// The selection context used for entry path computation.
	Selection *memories.Selection
	// The output filename recorded on the Result.
	Filename string
	// The preferred output strategy. When nil the buffered strategy is
	// used directly.
	Preferred Strategy

	mu      sync.Mutex
	entries []*Entry
	paths   map[string]int
}

// AddMemory queues the processed bytes for a memory under its computed
// archive path.
func (a *Archiver) AddMemory(m *memories.Memory, body []byte) {

	a.add(&Entry{
		Path: EntryPath(a.Selection, m),
		Body: body,
	})
}

// AddReport queues a report document at the archive root.
func (a *Archiver) AddReport(name string, body []byte) {

	a.add(&Entry{
		Path: name,
		Body: body,
	})
}

func (a *Archiver) add(e *Entry) {

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.paths == nil {
		a.paths = make(map[string]int)
	}

	// Paths are a pure function of (selection, filename) and filenames are
	// unique per memory, so collisions signal a caller bug. Last write wins,
	// matching keyed accumulation.

	idx, exists := a.paths[e.Path]

	if exists {
		a.entries[idx] = e
		return
	}

	a.paths[e.Path] = len(a.entries)
	a.entries = append(a.entries, e)
}

// Len returns the number of entries queued so far.
func (a *Archiver) Len() int {

	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.entries)
}

// Close finalizes the archive. The preferred strategy is tried first; any
// failure other than ErrDestinationCancelled falls back to the buffered
// strategy. Success requires a non-empty archive.
func (a *Archiver) Close(ctx context.Context) (*Result, error) {

	a.mu.Lock()
	entries := a.entries
	a.mu.Unlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("Nothing to archive")
	}

	logger := slog.Default()
	logger = logger.With("filename", a.Filename)

	var result *multierror.Error

	if a.Preferred != nil {

		rsp, err := a.Preferred.Finalize(ctx, entries)

		if err == nil {
			rsp.Filename = a.Filename
			return rsp, nil
		}

		if errors.Is(err, ErrDestinationCancelled) {
			return nil, err
		}

		logger.Warn("Preferred archive strategy failed, falling back to buffered", "error", err)
		result = multierror.Append(result, err)
	}

	buffered := &BufferedStrategy{}

	rsp, err := buffered.Finalize(ctx, entries)

	if err != nil {
		result = multierror.Append(result, err)
		return nil, fmt.Errorf("Failed to finalize archive, %w", result.ErrorOrNil())
	}

	rsp.Filename = a.Filename
	return rsp, nil
}

// EntryPath computes the archive path for a memory. A country-then-year
// drill-down yields <country>/<year>/<filename>; a single selection yields
// <selection>/<filename>; with no selection the path falls back to
// <year>/<country>/<filename>. Every segment is sanitized.
func EntryPath(sel *memories.Selection, m *memories.Memory) string {

	if sel != nil && sel.Mode == memories.SelectionModeCountry && sel.YearsForCountry {

		country := memories.SanitizeName(sel.Country)
		return fmt.Sprintf("%s/%d/%s", country, m.Year(), memories.SanitizeName(m.Filename))
	}

	if sel != nil {

		folder := memories.SanitizeName(sel.Label())
		return fmt.Sprintf("%s/%s", folder, memories.SanitizeName(m.Filename))
	}

	country := m.Country

	if country == "" {
		country = memories.CountryUnknown
	}

	return fmt.Sprintf("%s/%s/%s", strconv.Itoa(m.Year()), memories.SanitizeName(country), memories.SanitizeName(m.Filename))
}
