package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/sfomuseum/go-memories"
	"github.com/sfomuseum/go-memories/config"
	"github.com/sfomuseum/go-memories/geocode"
	"github.com/sfomuseum/go-memories/operations/archive"
	"github.com/sfomuseum/go-memories/operations/process"
	"github.com/sfomuseum/go-memories/parser"
	"github.com/sfomuseum/go-memories/session"
	"gocloud.dev/blob"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

func main() {

	export_path := flag.String("export", "", "The path to the memories export HTML document.")
	config_path := flag.String("config", "", "An optional TOML file with runtime overrides.")

	boundaries_reader_uri := flag.String("boundaries-reader-uri", "fs:///usr/local/data", "A valid whosonfirst/go-reader URI where the boundary dataset is read from.")
	boundaries_path := flag.String("boundaries-path", "countries.geojson", "The path to the boundary dataset, relative to -boundaries-reader-uri.")

	destination_uri := flag.String("destination-uri", "", "A valid gocloud.dev/blob URI where archives are written.")
	stream := flag.Bool("stream", false, "Stream archives directly to the destination rather than assembling them in memory first.")
	acl := flag.String("acl", "", "An optional canned ACL applied when the destination is S3.")

	sel_year := flag.Int("year", 0, "Restrict the selection to this capture year.")
	sel_country := flag.String("country", "", "Restrict the selection to this country label.")
	years_for_country := flag.Bool("years-for-country", false, "Group a country selection in to per-year folders.")

	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*config_path)

	if err != nil {
		log.Fatalf("Failed to load config, %v", err)
	}

	fh, err := os.Open(*export_path)

	if err != nil {
		log.Fatalf("Failed to open export document, %v", err)
	}

	defer fh.Close()

	parsed, err := parser.Parse(ctx, fh)

	if err != nil {
		log.Fatalf("Failed to parse export document, %v", err)
	}

	log.Printf("Parsed %d memories", len(parsed.Memories))

	if parsed.ExpiresAt != nil {
		log.Printf("Export links expire at %v", parsed.ExpiresAt)
	}

	sess, err := session.New()

	if err != nil {
		log.Fatalf("Failed to create session, %v", err)
	}

	var sel *memories.Selection

	switch {
	case *sel_year != 0:
		sel = &memories.Selection{Mode: memories.SelectionModeYear, Year: *sel_year}
	case *sel_country != "":
		sel = &memories.Selection{Mode: memories.SelectionModeCountry, Country: *sel_country, YearsForCountry: *years_for_country}
	}

	sess.Selection = sel

	classifier, err := geocode.NewClassifier(ctx, *boundaries_reader_uri, *boundaries_path)

	if err != nil {
		log.Fatalf("Failed to create classifier, %v", err)
	}

	coordinator := &geocode.Coordinator{
		Classifier:  classifier,
		IsCancelled: sess.Cancelled,
	}

	coordinator.ClassifyAll(ctx, parsed.Memories, func(u geocode.Update) {
		log.Printf("[%3d%%] %s %s", u.Progress, u.MemoryId[:8], u.Country)
	})

	selected := selectMemories(parsed.Memories, sel)

	batches, err := memories.PlanBatches(selected, cfg.LargeSelectionThreshold, sel)

	if err != nil {
		log.Fatalf("Failed to plan batches, %v", err)
	}

	log.Printf("Planned %d batches for %d memories", len(batches), len(selected))

	bucket, err := blob.OpenBucket(ctx, *destination_uri)

	if err != nil {
		log.Fatalf("Failed to open destination bucket, %v", err)
	}

	defer bucket.Close()

	pr := &process.Processor{
		Client:     http.DefaultClient,
		Session:    sess,
		MaxWorkers: cfg.MaxWorkers,
		Fetch: &process.FetchOptions{
			MaxAttempts: cfg.MaxAttempts,
			Timeout:     cfg.Timeout(),
			RetryDelay:  cfg.Delay(),
		},
	}

	for _, b := range batches {

		sess.Begin(len(b.Memories))

		ar := &archive.Archiver{
			Selection: sel,
			Filename:  b.ZipFilename,
		}

		if *stream {
			ar.Preferred = &archive.StreamingStrategy{
				Bucket: bucket,
				Key:    b.ZipFilename,
				ACL:    *acl,
			}
		}

		ok, rsp, err := pr.ProcessBatch(ctx, b, ar)

		if err != nil {
			log.Printf("Batch %d failed, %v", b.BatchNum, err)
			continue
		}

		if !ok {
			log.Printf("Batch %d produced no archive", b.BatchNum)
			continue
		}

		if rsp.Streamed {
			log.Printf("Batch %d streamed to %s (%d bytes)", b.BatchNum, rsp.Filename, rsp.Size)
			continue
		}

		err = writeArchive(ctx, bucket, rsp)

		if err != nil {
			log.Fatalf("Failed to write archive for batch %d, %v", b.BatchNum, err)
		}

		log.Printf("Batch %d written to %s (%d bytes)", b.BatchNum, rsp.Filename, rsp.Size)
	}
}

func selectMemories(ms []*memories.Memory, sel *memories.Selection) []*memories.Memory {

	if sel == nil {
		return ms
	}

	selected := make([]*memories.Memory, 0, len(ms))

	for _, m := range ms {

		switch sel.Mode {
		case memories.SelectionModeYear:

			if m.Year() == sel.Year {
				selected = append(selected, m)
			}

		case memories.SelectionModeCountry:

			if m.Country == sel.Country {
				selected = append(selected, m)
			}
		}
	}

	return selected
}

func writeArchive(ctx context.Context, bucket *blob.Bucket, rsp *archive.Result) error {

	wr, err := bucket.NewWriter(ctx, rsp.Filename, nil)

	if err != nil {
		return err
	}

	_, err = wr.Write(rsp.Body)

	if err != nil {
		wr.Close()
		return err
	}

	return wr.Close()
}
