package geocode

import (
	"context"
	"log/slog"
	"math"

	"github.com/sfomuseum/go-memories"
)

// Update is one per-memory classification event.
type Update struct {
	// Overall progress across the run, 0-100.
	Progress int `json:"progress"`
	// The identifier of the memory that was classified.
	MemoryId string `json:"memory_id"`
	// The resolved country name or one of the sentinel labels.
	Country string `json:"country"`
}

// UpdateFunc is invoked once per memory as classification progresses.
type UpdateFunc func(Update)

// Coordinator walks a set of memories and assigns each a country label using
// a Classifier.
type Coordinator struct {
	// The boundary classifier used to resolve coordinates.
	Classifier *Classifier
	// An optional cooperative cancellation check, polled before each
	// classification step.
	IsCancelled func() bool
}

// ClassifyAll assigns a country label to every memory, emitting an Update for
// each. Memories carrying the "no coordinate" sentinel are labeled
// immediately, in their original order, before the boundary dataset is
// touched. If the dataset fails to load every remaining coordinate-bearing
// memory is labeled API_ERROR rather than aborting the run. Cancellation is
// cooperative: memories not yet processed keep their prior label.
func (c *Coordinator) ClassifyAll(ctx context.Context, ms []*memories.Memory, on_update UpdateFunc) {

	logger := slog.Default()

	with_location := make([]*memories.Memory, 0, len(ms))

	total := len(ms)
	processed := 0

	emit := func(m *memories.Memory, country string) {

		m.Country = country
		processed = processed + 1

		if on_update == nil {
			return
		}

		on_update(Update{
			Progress: progress(processed, total),
			MemoryId: m.Id,
			Country:  country,
		})
	}

	for _, m := range ms {

		if m.HasLocation() {
			with_location = append(with_location, m)
			continue
		}

		emit(m, memories.CountryNoLocation)
	}

	if len(with_location) == 0 {
		return
	}

	for idx, m := range with_location {

		if c.cancelled(ctx) {
			logger.Info("Classification cancelled", "remaining", len(with_location)-idx)
			return
		}

		name, ok, err := c.Classifier.Classify(ctx, m.Longitude, m.Latitude)

		if err != nil {

			logger.Error("Failed to load boundary dataset, marking remaining memories", "error", err)

			for _, rest := range with_location[idx:] {
				emit(rest, memories.CountryAPIError)
			}

			return
		}

		if !ok {
			emit(m, memories.CountryNotIdentified)
			continue
		}

		emit(m, name)
	}
}

func (c *Coordinator) cancelled(ctx context.Context) bool {

	select {
	case <-ctx.Done():
		return true
	default:
		// pass
	}

	if c.IsCancelled != nil && c.IsCancelled() {
		return true
	}

	return false
}

func progress(processed int, total int) int {

	if total == 0 {
		return 100
	}

	return int(math.Round(float64(processed) / float64(total) * 100.0))
}
