package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/sfomuseum/go-memories/geocode"
	"github.com/sfomuseum/go-memories/parser"
)

func main() {

	export_path := flag.String("export", "", "The path to the memories export HTML document.")

	boundaries_reader_uri := flag.String("boundaries-reader-uri", "fs:///usr/local/data", "A valid whosonfirst/go-reader URI where the boundary dataset is read from.")
	boundaries_path := flag.String("boundaries-path", "countries.geojson", "The path to the boundary dataset, relative to -boundaries-reader-uri.")

	flag.Parse()

	ctx := context.Background()

	fh, err := os.Open(*export_path)

	if err != nil {
		log.Fatalf("Failed to open export document, %v", err)
	}

	defer fh.Close()

	parsed, err := parser.Parse(ctx, fh)

	if err != nil {
		log.Fatalf("Failed to parse export document, %v", err)
	}

	classifier, err := geocode.NewClassifier(ctx, *boundaries_reader_uri, *boundaries_path)

	if err != nil {
		log.Fatalf("Failed to create classifier, %v", err)
	}

	coordinator := &geocode.Coordinator{
		Classifier: classifier,
	}

	coordinator.ClassifyAll(ctx, parsed.Memories, nil)

	enc := json.NewEncoder(os.Stdout)

	for _, m := range parsed.Memories {

		err = enc.Encode(m)

		if err != nil {
			log.Fatalf("Failed to encode %s, %v", m.Id, err)
		}
	}
}
