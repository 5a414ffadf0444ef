package archive

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"gocloud.dev/blob"
)

// DestinationOpenerFunc obtains a destination for a streamed archive. It is
// expected to be invoked synchronously at the moment of the triggering user
// action, before any batch work starts. Implementations return
// ErrDestinationCancelled when the user declines.
type DestinationOpenerFunc func(ctx context.Context, filename string) (*blob.Bucket, string, error)

// StreamingStrategy pipes a ZIP-encoding stream of the accumulated entries
// directly to a gocloud.dev/blob destination without holding the whole
// archive blob in memory.
type StreamingStrategy struct {
	// The destination bucket, obtained up front.
	Bucket *blob.Bucket
	// The destination key inside the bucket.
	Key string
	// An optional canned ACL applied when the destination is S3.
	ACL string
}

// NewStreamingStrategy opens the destination through 'opener' and returns a
// strategy bound to it. An ErrDestinationCancelled from the opener is
// propagated unchanged so callers can abort the batch cleanly.
func NewStreamingStrategy(ctx context.Context, opener DestinationOpenerFunc, filename string) (*StreamingStrategy, error) {

	bucket, key, err := opener(ctx, filename)

	if err != nil {
		return nil, err
	}

	s := &StreamingStrategy{
		Bucket: bucket,
		Key:    key,
	}

	return s, nil
}

// Finalize streams every entry to the destination as one ZIP object.
func (s *StreamingStrategy) Finalize(ctx context.Context, entries []*Entry) (*Result, error) {

	var wr_opts *blob.WriterOptions

	if s.ACL != "" {

		before := func(asFunc func(interface{}) bool) error {

			s3_req := &s3manager.UploadInput{}
			ok := asFunc(&s3_req)

			if ok {
				s3_req.ACL = aws.String(s.ACL)
			}

			return nil
		}

		wr_opts = &blob.WriterOptions{
			BeforeWrite: before,
		}
	}

	wr, err := s.Bucket.NewWriter(ctx, s.Key, wr_opts)

	if err != nil {
		return nil, fmt.Errorf("Failed to create writer for '%s', %w", s.Key, err)
	}

	err = writeZip(ctx, wr, entries, 0)

	if err != nil {
		wr.Close()
		s.Bucket.Delete(ctx, s.Key)
		return nil, err
	}

	err = wr.Close()

	if err != nil {
		return nil, fmt.Errorf("Failed to close writer for '%s', %w", s.Key, err)
	}

	attrs, err := s.Bucket.Attributes(ctx, s.Key)

	if err != nil {
		return nil, fmt.Errorf("Failed to read attributes for '%s', %w", s.Key, err)
	}

	if attrs.Size == 0 {
		s.Bucket.Delete(ctx, s.Key)
		return nil, fmt.Errorf("Archive generation resulted in a 0-byte file")
	}

	return &Result{
		Size:     attrs.Size,
		Streamed: true,
	}, nil
}
