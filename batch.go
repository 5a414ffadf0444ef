package memories

import (
	"fmt"
)

// BatchStatus describes where a Batch is in its lifecycle.
type BatchStatus string

const (
	BatchStatusPlanned    BatchStatus = "planned"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusSuccess    BatchStatus = "success"
	BatchStatusError      BatchStatus = "error"
)

// Batch is a bounded slice of memories processed and archived together.
type Batch struct {
	// The 1-based ordinal of the batch.
	BatchNum int `json:"batch_num"`
	// The total number of batches in the plan this batch belongs to.
	TotalBatches int `json:"total_batches"`
	// The memories owned by this batch. Slices across a plan are
	// contiguous, ordered and non-overlapping.
	Memories []*Memory `json:"memories"`

	Status BatchStatus `json:"status"`
	// The precomputed output filename for the batch's archive.
	ZipFilename string `json:"zip_filename"`
}

// DefaultBatchSize is the production large-selection threshold. Selections
// above it are split in to batches of this size to bound peak memory.
const DefaultBatchSize = 500

// PlanBatches partitions memories in to batches of at most batch_size items.
// It is a pure function of its inputs: slices are contiguous, order-preserving
// and disjoint, and their concatenation equals the input exactly.
func PlanBatches(ms []*Memory, batch_size int, sel *Selection) ([]*Batch, error) {

	if batch_size <= 0 {
		return nil, fmt.Errorf("Invalid batch size %d", batch_size)
	}

	count := len(ms)

	total := count / batch_size

	if count%batch_size != 0 {
		total = total + 1
	}

	if total == 0 {
		total = 1
	}

	batches := make([]*Batch, 0, total)

	for i := 0; i < total; i++ {

		first := i * batch_size
		last := first + batch_size

		if last > count {
			last = count
		}

		b := &Batch{
			BatchNum:     i + 1,
			TotalBatches: total,
			Memories:     ms[first:last],
			Status:       BatchStatusPlanned,
			ZipFilename:  ZipFilename(sel, i+1, total),
		}

		batches = append(batches, b)
	}

	return batches, nil
}

// ZipFilename derives the output filename for one batch of a plan from the
// active selection context.
func ZipFilename(sel *Selection, batch_num int, total_batches int) string {

	name := "memories-export"

	if sel != nil {
		name = fmt.Sprintf("memories-%s-%s", sel.Mode, SanitizeName(sel.Label()))
	}

	if total_batches > 1 {
		return fmt.Sprintf("%s-%02d-of-%02d.zip", name, batch_num, total_batches)
	}

	return fmt.Sprintf("%s.zip", name)
}
