package process

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sfomuseum/go-memories"
	"github.com/sfomuseum/go-memories/operations/archive"
	"github.com/sfomuseum/go-memories/session"
)

func testImageJPEG(t *testing.T) []byte {

	im := image.NewRGBA(image.Rect(0, 0, 8, 8))

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			im.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}

	var buf bytes.Buffer

	err := jpeg.Encode(&buf, im, nil)

	if err != nil {
		t.Fatalf("Failed to encode fixture, %v", err)
	}

	return buf.Bytes()
}

func testOverlayPNG(t *testing.T) []byte {

	im := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	im.Set(1, 1, color.NRGBA{255, 255, 255, 255})

	var buf bytes.Buffer

	err := png.Encode(&buf, im)

	if err != nil {
		t.Fatalf("Failed to encode overlay fixture, %v", err)
	}

	return buf.Bytes()
}

func testProcessor(s *session.Session) *Processor {

	return &Processor{
		Session: s,
		Fetch: &FetchOptions{
			MaxAttempts: 3,
			Timeout:     5 * time.Second,
			RetryDelay:  time.Millisecond,
		},
	}
}

func testMemory(url string, name string) *memories.Memory {

	return &memories.Memory{
		Id:           memories.MemoryId(url),
		Date:         time.Date(2021, 6, 15, 9, 30, 5, 0, time.UTC),
		Type:         memories.MediaTypeImage,
		DownloadURL:  url,
		IsGetRequest: true,
		Filename:     name,
	}
}

func readArchive(t *testing.T, rsp *archive.Result) map[string][]byte {

	zr, err := zip.NewReader(bytes.NewReader(rsp.Body), rsp.Size)

	if err != nil {
		t.Fatalf("Failed to open archive, %v", err)
	}

	contents := make(map[string][]byte)

	for _, f := range zr.File {

		fh, err := f.Open()

		if err != nil {
			t.Fatalf("Failed to open archive entry %s, %v", f.Name, err)
		}

		var buf bytes.Buffer
		buf.ReadFrom(fh)
		fh.Close()

		contents[f.Name] = buf.Bytes()
	}

	return contents
}

func TestProcessBatch(t *testing.T) {

	ctx := context.Background()

	photo := testImageJPEG(t)

	mux := http.NewServeMux()

	mux.HandleFunc("/ok.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(photo)
	})

	mux.HandleFunc("/gone.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	m_ok := testMemory(srv.URL+"/ok.jpg", "2021-06-15_09-30-05_Image_aaaaaaaa.jpg")
	m_ok.Latitude = 48.85
	m_ok.Longitude = 2.35
	m_ok.Country = "France"

	m_gone := testMemory(srv.URL+"/gone.jpg", "2021-06-15_09-30-05_Image_bbbbbbbb.jpg")
	m_gone.Country = "France"

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m_ok, m_gone},
		ZipFilename:  "memories-export.zip",
	}

	s, err := session.New()

	if err != nil {
		t.Fatalf("Failed to create session, %v", err)
	}

	s.Begin(len(b.Memories))

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Failed to process batch, %v", err)
	}

	if !ok {
		t.Fatalf("Expected an archive to be produced")
	}

	if b.Status != memories.BatchStatusSuccess {
		t.Fatalf("Expected success status, got %s", b.Status)
	}

	if m_ok.DownloadState != memories.DownloadStateSuccess {
		t.Fatalf("Expected success state, got %s", m_ok.DownloadState)
	}

	if m_ok.DownloadProgress != 100 {
		t.Fatalf("Expected progress 100, got %d", m_ok.DownloadProgress)
	}

	if m_gone.DownloadState != memories.DownloadStateError {
		t.Fatalf("Expected error state, got %s", m_gone.DownloadState)
	}

	contents := readArchive(t, rsp)

	entry_path := "2021/France/2021-06-15_09-30-05_Image_aaaaaaaa.jpg"

	body, exists := contents[entry_path]

	if !exists {
		t.Fatalf("Expected archive entry %s, found %v", entry_path, keysOf(contents))
	}

	// Location metadata was embedded so the entry differs from the source.

	if bytes.Equal(body, photo) {
		t.Fatalf("Expected location metadata to be embedded")
	}

	report_body, exists := contents["_Report.html"]

	if !exists {
		t.Fatalf("Expected a failure report in the archive")
	}

	if !bytes.Contains(report_body, []byte("2021-06-15_09-30-05_Image_bbbbbbbb.jpg")) {
		t.Fatalf("Expected the failed filename in the report")
	}

	snap := s.Snapshot()

	if snap.Completed != 2 || snap.Failed != 1 {
		t.Fatalf("Expected 2 completed and 1 failed, got %d and %d", snap.Completed, snap.Failed)
	}
}

func TestProcessBatchZipContainer(t *testing.T) {

	ctx := context.Background()

	photo := testImageJPEG(t)
	overlay := testOverlayPNG(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, _ := zw.Create("0000-main.jpg")
	w.Write(photo)

	w, _ = zw.Create("0000-overlay.png")
	w.Write(overlay)

	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(buf.Bytes())
	}))

	defer srv.Close()

	m := testMemory(srv.URL+"/wrapped", "2021-06-15_09-30-05_Image_cccccccc.jpg")

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Failed to process batch, %v", err)
	}

	if !ok {
		t.Fatalf("Expected an archive to be produced")
	}

	contents := readArchive(t, rsp)

	if len(contents) != 1 {
		t.Fatalf("Expected a single archive entry, got %d", len(contents))
	}

	for path, body := range contents {

		// The merged result is re-encoded so it matches neither source.

		if bytes.Equal(body, photo) {
			t.Fatalf("Expected the overlay to be merged for %s", path)
		}

		im, _, err := image.Decode(bytes.NewReader(body))

		if err != nil {
			t.Fatalf("Failed to decode merged entry %s, %v", path, err)
		}

		bounds := im.Bounds()

		if bounds.Dx() != 8 || bounds.Dy() != 8 {
			t.Fatalf("Expected the primary image dimensions, got %v", bounds)
		}
	}
}

func TestProcessBatchManifest(t *testing.T) {

	ctx := context.Background()

	photo := testImageJPEG(t)

	mux := http.NewServeMux()

	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(photo)
	})

	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"Media": [{"Media Type": "PHOTO", "URI": "%s/media.jpg"}]}`, srv.URL)
	})

	m := testMemory(srv.URL+"/manifest", "2021-06-15_09-30-05_Image_dddddddd.jpg")

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Failed to process batch, %v", err)
	}

	if !ok {
		t.Fatalf("Expected an archive to be produced")
	}

	contents := readArchive(t, rsp)

	body, exists := contents["2021/COUNTRY_UNKNOWN/2021-06-15_09-30-05_Image_dddddddd.jpg"]

	if !exists {
		t.Fatalf("Expected the manifest media in the archive, found %v", keysOf(contents))
	}

	if !bytes.Equal(body, photo) {
		t.Fatalf("Expected the manifest media bytes to pass through unchanged")
	}
}

func TestProcessBatchOverlayFetchFailure(t *testing.T) {

	ctx := context.Background()

	photo := testImageJPEG(t)

	mux := http.NewServeMux()

	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(photo)
	})

	mux.HandleFunc("/overlay.png", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"Media": [
			{"Media Type": "PHOTO", "URI": "%s/media.jpg"},
			{"Media Type": "PHOTO_OVERLAY", "URI": "%s/overlay.png"}
		]}`, srv.URL, srv.URL)
	})

	m := testMemory(srv.URL+"/manifest", "2021-06-15_09-30-05_Image_ffffffff.jpg")

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	// A failing overlay fetch degrades to primary-only content; it never
	// fails the memory.

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Failed to process batch, %v", err)
	}

	if !ok {
		t.Fatalf("Expected an archive to be produced")
	}

	if m.DownloadState != memories.DownloadStateSuccess {
		t.Fatalf("Expected success state, got %s", m.DownloadState)
	}

	contents := readArchive(t, rsp)

	body, exists := contents["2021/COUNTRY_UNKNOWN/2021-06-15_09-30-05_Image_ffffffff.jpg"]

	if !exists {
		t.Fatalf("Expected the primary media in the archive, found %v", keysOf(contents))
	}

	if !bytes.Equal(body, photo) {
		t.Fatalf("Expected the primary bytes untouched when the overlay fails")
	}
}

func TestProcessBatchCorruptOverlayEntry(t *testing.T) {

	ctx := context.Background()

	photo := testImageJPEG(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, _ := zw.Create("0000-main.jpg")
	w.Write(photo)

	w, _ = zw.Create("0000-overlay.png")
	w.Write([]byte("not a png"))

	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(buf.Bytes())
	}))

	defer srv.Close()

	m := testMemory(srv.URL+"/wrapped", "2021-06-15_09-30-05_Image_99999999.jpg")

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	// The overlay entry decodes as nothing; the merge fails and the
	// primary image ships on its own.

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Failed to process batch, %v", err)
	}

	if !ok {
		t.Fatalf("Expected an archive to be produced")
	}

	if m.DownloadState != memories.DownloadStateSuccess {
		t.Fatalf("Expected success state, got %s", m.DownloadState)
	}

	contents := readArchive(t, rsp)

	body, exists := contents["2021/COUNTRY_UNKNOWN/2021-06-15_09-30-05_Image_99999999.jpg"]

	if !exists {
		t.Fatalf("Expected the primary media in the archive, found %v", keysOf(contents))
	}

	if !bytes.Equal(body, photo) {
		t.Fatalf("Expected the primary bytes untouched when the overlay is corrupt")
	}
}

func TestProcessBatchSkipsEmbedOnZeroAxis(t *testing.T) {

	ctx := context.Background()

	photo := testImageJPEG(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(photo)
	}))

	defer srv.Close()

	// A coordinate with one axis at zero gets no embedded metadata even
	// though it still classifies as a location.

	m := testMemory(srv.URL+"/equator.jpg", "2021-06-15_09-30-05_Image_88888888.jpg")
	m.Latitude = 0
	m.Longitude = 2.35
	m.Country = "France"

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Failed to process batch, %v", err)
	}

	if !ok {
		t.Fatalf("Expected an archive to be produced")
	}

	contents := readArchive(t, rsp)

	body, exists := contents["2021/France/2021-06-15_09-30-05_Image_88888888.jpg"]

	if !exists {
		t.Fatalf("Expected the memory in the archive, found %v", keysOf(contents))
	}

	if !bytes.Equal(body, photo) {
		t.Fatalf("Expected the source bytes untouched for a zero-axis coordinate")
	}
}

func TestProcessBatchAllFailed(t *testing.T) {

	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	defer srv.Close()

	m := testMemory(srv.URL+"/expired.jpg", "2021-06-15_09-30-05_Image_eeeeeeee.jpg")

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Expected no error for an all-failed batch, got %v", err)
	}

	if ok || rsp != nil {
		t.Fatalf("Expected no archive for an all-failed batch")
	}

	if b.Status != memories.BatchStatusError {
		t.Fatalf("Expected error status, got %s", b.Status)
	}
}

func TestProcessBatchCancelled(t *testing.T) {

	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("irrelevant"))
	}))

	defer srv.Close()

	m := testMemory(srv.URL+"/a.jpg", "a.jpg")

	b := &memories.Batch{
		BatchNum:     1,
		TotalBatches: 1,
		Memories:     []*memories.Memory{m},
		ZipFilename:  "memories-export.zip",
	}

	s, _ := session.New()
	s.Begin(1)
	s.Cancel()

	pr := testProcessor(s)

	ar := &archive.Archiver{
		Filename: b.ZipFilename,
	}

	ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

	if err != nil {
		t.Fatalf("Expected no error for a cancelled batch, got %v", err)
	}

	if ok || rsp != nil {
		t.Fatalf("Expected no archive for a cancelled batch")
	}
}

func keysOf(m map[string][]byte) []string {

	keys := make([]string, 0, len(m))

	for k := range m {
		keys = append(keys, k)
	}

	return keys
}
