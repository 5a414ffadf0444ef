// Package geocode resolves the country a coordinate was captured in, offline,
// by containment-testing against a fixed country-boundary dataset.
package geocode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/whosonfirst/go-reader/v2"
)

// boundary is one named country polygon (or multi-polygon), shared read-only
// across all classification calls.
type boundary struct {
	name     string
	geometry orb.Geometry
}

// Classifier answers "which country boundary contains this coordinate". The
// boundary dataset is loaded lazily on first use and cached for the lifetime
// of the process.
type Classifier struct {
	reader reader.Reader
	path   string

	load_once  sync.Once
	load_err   error
	boundaries []*boundary
}

// NewClassifier returns a Classifier that loads its boundary dataset (a
// GeoJSON FeatureCollection) from 'path' using a whosonfirst/go-reader
// instance created from 'reader_uri'. The dataset is not read until the
// first call to Classify.
func NewClassifier(ctx context.Context, reader_uri string, path string) (*Classifier, error) {

	r, err := reader.NewReader(ctx, reader_uri)

	if err != nil {
		return nil, fmt.Errorf("Failed to create reader for '%s', %w", reader_uri, err)
	}

	return NewClassifierWithReader(ctx, r, path), nil
}

// NewClassifierWithReader returns a Classifier reading its boundary dataset
// from 'path' using 'r'.
func NewClassifierWithReader(ctx context.Context, r reader.Reader, path string) *Classifier {

	return &Classifier{
		reader: r,
		path:   path,
	}
}

// Classify returns the name of the first boundary whose geometry contains
// the (longitude, latitude) coordinate, and a boolean flag signaling whether
// any boundary matched at all. It fails only if the boundary dataset itself
// can not be loaded or parsed.
func (c *Classifier) Classify(ctx context.Context, longitude float64, latitude float64) (string, bool, error) {

	err := c.load(ctx)

	if err != nil {
		return "", false, err
	}

	pt := orb.Point{longitude, latitude}

	for _, b := range c.boundaries {

		if geometryContains(b.geometry, pt) {
			return b.name, true, nil
		}
	}

	return "", false, nil
}

func (c *Classifier) load(ctx context.Context) error {

	c.load_once.Do(func() {

		logger := slog.Default()
		logger = logger.With("path", c.path)

		logger.Debug("Load boundary dataset")

		fh, err := c.reader.Read(ctx, c.path)

		if err != nil {
			c.load_err = fmt.Errorf("Failed to read boundary dataset from '%s', %w", c.path, err)
			return
		}

		defer fh.Close()

		body, err := io.ReadAll(fh)

		if err != nil {
			c.load_err = fmt.Errorf("Failed to read boundary dataset body, %w", err)
			return
		}

		fc, err := geojson.UnmarshalFeatureCollection(body)

		if err != nil {
			c.load_err = fmt.Errorf("Failed to unmarshal boundary dataset, %w", err)
			return
		}

		boundaries := make([]*boundary, 0, len(fc.Features))

		for _, f := range fc.Features {

			name, _ := f.Properties["name"].(string)

			if name == "" {
				logger.Debug("Boundary feature is missing a name, skipping")
				continue
			}

			switch f.Geometry.(type) {
			case orb.Polygon, orb.MultiPolygon:
				// pass
			default:
				logger.Debug("Boundary feature has unsupported geometry, skipping", "name", name)
				continue
			}

			boundaries = append(boundaries, &boundary{
				name:     name,
				geometry: f.Geometry,
			})
		}

		logger.Debug("Finished loading boundary dataset", "count", len(boundaries))
		c.boundaries = boundaries
	})

	return c.load_err
}

func geometryContains(geom orb.Geometry, pt orb.Point) bool {

	switch g := geom.(type) {
	case orb.Polygon:
		return polygonContains(g, pt)
	case orb.MultiPolygon:

		for _, p := range g {

			if polygonContains(p, pt) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

// polygonContains applies the ray-casting algorithm to every ring of the
// polygon independently. The first ring is the exterior; any subsequent ring
// is a hole and containment in a hole negates containment for the polygon.
func polygonContains(poly orb.Polygon, pt orb.Point) bool {

	x := pt[0]
	y := pt[1]

	inside := false

	for ring_idx, ring := range poly {

		ring_inside := false

		for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {

			xi := ring[i][0]
			yi := ring[i][1]

			xj := ring[j][0]
			yj := ring[j][1]

			if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi)+xi) {
				ring_inside = !ring_inside
			}
		}

		if !ring_inside {
			continue
		}

		if ring_idx == 0 {
			inside = true
		} else {
			return false
		}
	}

	return inside
}
