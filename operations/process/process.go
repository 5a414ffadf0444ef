// Package process implements the bounded-concurrency retrieval pipeline: a
// fixed pool of workers that fetch each memory's content with resilient
// retry, unwrap nested containers, merge overlays, embed location metadata
// and hand the results to the archiver.
package process

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/sfomuseum/go-memories"
	"github.com/sfomuseum/go-memories/exifwriter"
	"github.com/sfomuseum/go-memories/history"
	"github.com/sfomuseum/go-memories/operations/archive"
	"github.com/sfomuseum/go-memories/report"
	"github.com/sfomuseum/go-memories/session"
)

// DefaultMaxWorkers is the size of the worker pool.
const DefaultMaxWorkers = 5

// Processor runs batches of memories through the retrieval pipeline.
type Processor struct {
	// The HTTP client used for all fetches. When nil the default client
	// is used.
	Client *http.Client
	// The shared session context: progress counters and the cooperative
	// cancellation flag.
	Session *session.Session
	// An optional recorder notified of per-memory success and failure.
	History history.Recorder
	// The size of the worker pool. Zero means DefaultMaxWorkers.
	MaxWorkers int
	// The retry policy for fetches. Nil means the stock policy.
	Fetch *FetchOptions
}

// ProcessBatch processes every memory in the batch to quiescence, appends a
// failure report when needed and finalizes the batch's archive through 'ar'.
// It returns true if and only if at least one memory succeeded and the
// archive was produced. Partial failures never abort sibling work.
func (p *Processor) ProcessBatch(ctx context.Context, b *memories.Batch, ar *archive.Archiver) (bool, *archive.Result, error) {

	logger := slog.Default()
	logger = logger.With("batch", b.BatchNum)

	b.Status = memories.BatchStatusProcessing

	for _, m := range b.Memories {
		m.DownloadState = memories.DownloadStatePending
		m.DownloadProgress = 0
		m.RetryCount = 0
	}

	queue := make(chan *memories.Memory, len(b.Memories))

	for _, m := range b.Memories {
		queue <- m
	}

	close(queue)

	workers := p.MaxWorkers

	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	wg := new(sync.WaitGroup)

	for i := 0; i < workers; i++ {

		wg.Add(1)

		go func() {

			defer wg.Done()

			for {

				if p.Session.Cancelled() {
					return
				}

				m, ok := <-queue

				if !ok {
					return
				}

				p.processMemory(ctx, m, ar)
			}
		}()
	}

	wg.Wait()

	if p.Session.Cancelled() {
		logger.Info("Batch cancelled")
		return false, nil, nil
	}

	successful := make([]*memories.Memory, 0, len(b.Memories))
	failed := make([]*memories.Memory, 0)

	for _, m := range b.Memories {

		switch m.DownloadState {
		case memories.DownloadStateSuccess:
			successful = append(successful, m)
		case memories.DownloadStateError:
			failed = append(failed, m)
		default:
			// not processed (cancelled mid-drain); leave as-is
		}
	}

	if len(successful) == 0 {
		logger.Warn("No memories were processed successfully, skipping archive generation")
		b.Status = memories.BatchStatusError
		return false, nil, nil
	}

	if len(failed) > 0 {

		body, err := report.Generate(b, successful, failed)

		if err != nil {
			logger.Error("Failed to generate failure report", "error", err)
		} else {
			ar.AddReport(report.Filename, body)
		}
	}

	rsp, err := ar.Close(ctx)

	if err != nil {
		b.Status = memories.BatchStatusError
		return false, nil, fmt.Errorf("Failed to finalize archive for batch %d, %w", b.BatchNum, err)
	}

	b.Status = memories.BatchStatusSuccess

	logger.Info("Batch complete", "successful", len(successful), "failed", len(failed), "size", rsp.Size)
	return true, rsp, nil
}

// processMemory runs one memory through the full pipeline. Every failure is
// converted in to the error state; nothing escapes the worker loop.
func (p *Processor) processMemory(ctx context.Context, m *memories.Memory, ar *archive.Archiver) {

	logger := slog.Default()
	logger = logger.With("memory", m.Id, "filename", m.Filename)

	defer func() {

		if r := recover(); r != nil {
			logger.Error("Panic while processing memory", "panic", r)
			p.fail(ctx, m)
		}
	}()

	p.Session.SetProcessing(m.Filename)

	m.DownloadState = memories.DownloadStateProcessing
	m.DownloadProgress = 5

	fetch_opts := p.fetchOptions(m)

	body, content_type, err := FetchWithRetry(ctx, p.client(), m.DownloadURL, m.IsGetRequest, fetch_opts)

	if err != nil {
		logger.Error("Failed to fetch memory", "error", err)
		p.fail(ctx, m)
		return
	}

	m.DownloadProgress = 10

	primary, overlay, err := p.unwrap(ctx, m, body, content_type)

	if err != nil {
		logger.Error("Failed to unwrap memory content", "error", err)
		p.fail(ctx, m)
		return
	}

	m.DownloadProgress = 75

	final := primary

	if m.Type == memories.MediaTypeImage && overlay != nil {

		merged, merge_err := MergeOverlay(primary, overlay)

		if merge_err != nil {
			logger.Warn("Failed to merge overlay, proceeding with primary image only", "error", merge_err)
		} else {
			final = merged
		}
	}

	m.DownloadProgress = 90

	final = p.embedLocation(m, final)

	if len(final) == 0 {
		logger.Error("Processed memory is empty")
		p.fail(ctx, m)
		return
	}

	ar.AddMemory(m, final)

	m.DownloadState = memories.DownloadStateSuccess
	m.DownloadProgress = 100

	p.Session.RecordSuccess(m, int64(len(final)))

	if p.History != nil {

		err := p.History.RecordSuccess(ctx, m.Id)

		if err != nil {
			logger.Warn("Failed to record success", "error", err)
		}
	}
}

// unwrap resolves the fetched bytes to (primary, overlay) content. Raw bytes
// may be a ZIP container or a JSON manifest carrying pointers to the real
// media; failure to locate the expected primary content is a hard failure,
// overlay failures never are.
func (p *Processor) unwrap(ctx context.Context, m *memories.Memory, body []byte, content_type string) ([]byte, []byte, error) {

	logger := slog.Default()
	logger = logger.With("memory", m.Id)

	if m.Type != memories.MediaTypeImage {
		return body, nil, nil
	}

	if IsZip(body) {
		return p.unwrapZip(m, body)
	}

	if strings.Contains(content_type, "application/json") {
		return p.unwrapManifest(ctx, m, body)
	}

	if m.OverlayURL != "" {

		overlay, _, err := FetchWithRetry(ctx, p.client(), m.OverlayURL, true, p.Fetch)

		if err != nil {
			logger.Warn("Failed to fetch overlay, proceeding without it", "error", err)
			return body, nil, nil
		}

		return body, overlay, nil
	}

	return body, nil, nil
}

func (p *Processor) unwrapZip(m *memories.Memory, body []byte) ([]byte, []byte, error) {

	logger := slog.Default()
	logger = logger.With("memory", m.Id)

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))

	if err != nil {
		return nil, nil, fmt.Errorf("Failed to open ZIP container, %w", err)
	}

	find := func(match func(string) bool) *zip.File {

		for _, f := range zr.File {

			if f.FileInfo().IsDir() {
				continue
			}

			if match(strings.ToLower(f.Name)) {
				return f
			}
		}

		return nil
	}

	primary_f := find(func(name string) bool {
		return strings.HasSuffix(name, "-main.jpg") || strings.HasSuffix(name, "-main.jpeg")
	})

	if primary_f == nil {
		return nil, nil, fmt.Errorf("ZIP container does not contain a main image file")
	}

	primary, err := readZipFile(primary_f)

	if err != nil {
		return nil, nil, fmt.Errorf("Failed to read main image from ZIP container, %w", err)
	}

	m.DownloadProgress = 30

	var overlay []byte

	overlay_f := find(func(name string) bool {
		return strings.HasSuffix(name, "-overlay.png")
	})

	if overlay_f != nil {

		overlay, err = readZipFile(overlay_f)

		if err != nil {
			logger.Warn("Failed to extract overlay from ZIP container, proceeding without it", "error", err)
			overlay = nil
		} else {
			m.DownloadProgress = 50
		}
	}

	return primary, overlay, nil
}

func (p *Processor) unwrapManifest(ctx context.Context, m *memories.Memory, body []byte) ([]byte, []byte, error) {

	logger := slog.Default()
	logger = logger.With("memory", m.Id)

	manifest, err := ParseManifest(body)

	if err != nil {
		return nil, nil, err
	}

	m.DownloadProgress = 15

	primary, _, err := FetchWithRetry(ctx, p.client(), manifest.MediaURI, true, p.fetchOptions(m))

	if err != nil {
		return nil, nil, fmt.Errorf("Failed to fetch primary media from manifest, %w", err)
	}

	m.DownloadProgress = 50

	var overlay []byte

	if manifest.OverlayURI != "" {

		overlay, _, err = FetchWithRetry(ctx, p.client(), manifest.OverlayURI, true, p.Fetch)

		if err != nil {
			logger.Warn("Failed to fetch overlay from manifest, proceeding without it", "error", err)
			overlay = nil
		}
	}

	return primary, overlay, nil
}

// embedLocation embeds GPS and original-capture-time metadata in JPEG bodies
// that carry a coordinate, re-validating the result. Embedding failure or
// corruption is always non-fatal: the original bytes win.
func (p *Processor) embedLocation(m *memories.Memory, body []byte) []byte {

	logger := slog.Default()
	logger = logger.With("memory", m.Id)

	// Either axis at zero means no embeddable position. This is stricter
	// than the classification sentinel, which treats (0, 0) alone as unknown.

	if m.Type != memories.MediaTypeImage || m.Latitude == 0 || m.Longitude == 0 {
		return body
	}

	t := SniffFileType(body)

	if t == nil || t.Mime != "image/jpeg" {
		return body
	}

	embedded, err := exifwriter.Embed(body, m.Latitude, m.Longitude, m.Date)

	if err != nil {
		logger.Warn("Failed to embed location metadata, proceeding without it", "error", err)
		return body
	}

	err = exifwriter.Verify(embedded)

	if err != nil {
		logger.Warn("Embedded metadata produced a corrupt image, proceeding with original bytes", "error", err)
		return body
	}

	// The body is definitively JPEG now; make the filename agree.

	if !strings.HasSuffix(strings.ToLower(m.Filename), ".jpg") && !strings.HasSuffix(strings.ToLower(m.Filename), ".jpeg") {

		idx := strings.LastIndex(m.Filename, ".")

		if idx > 0 {
			m.Filename = m.Filename[:idx] + ".jpg"
		} else {
			m.Filename = m.Filename + ".jpg"
		}
	}

	return embedded
}

func (p *Processor) fail(ctx context.Context, m *memories.Memory) {

	m.DownloadState = memories.DownloadStateError
	m.DownloadProgress = 0

	p.Session.RecordFailure(m)

	if p.History != nil {

		err := p.History.RecordFailure(ctx, m.Id)

		if err != nil {
			slog.Warn("Failed to record failure", "memory", m.Id, "error", err)
		}
	}
}

func (p *Processor) client() *http.Client {

	if p.Client != nil {
		return p.Client
	}

	return http.DefaultClient
}

func (p *Processor) fetchOptions(m *memories.Memory) *FetchOptions {

	opts := DefaultFetchOptions()

	if p.Fetch != nil {
		opts = &FetchOptions{
			MaxAttempts: p.Fetch.MaxAttempts,
			Timeout:     p.Fetch.Timeout,
			RetryDelay:  p.Fetch.RetryDelay,
		}
	}

	opts.OnRetry = func(attempt int) {
		m.RetryCount = attempt
		m.DownloadProgress = 0
	}

	return opts
}

func readZipFile(f *zip.File) ([]byte, error) {

	fh, err := f.Open()

	if err != nil {
		return nil, err
	}

	defer fh.Close()

	return io.ReadAll(fh)
}
