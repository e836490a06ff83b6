package history

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Exporter uploads store snapshots to an S3 bucket.
//
// The caller supplies a configured client:
//
//	exporter := history.NewS3Exporter(s3Client, "nt4-recordings", "matches/")
//	key, err := exporter.Export(ctx, store)
type S3Exporter struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Exporter creates an exporter writing under the given bucket and key
// prefix.
func NewS3Exporter(client *s3.Client, bucket, prefix string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, prefix: prefix}
}

// Export snapshots the store and uploads it, returning the object key. Keys
// are timestamped so successive exports never collide.
func (e *S3Exporter) Export(ctx context.Context, store *Store) (string, error) {
	now := time.Now()
	key := fmt.Sprintf("%ssnapshot-%s.json", e.prefix, now.UTC().Format("20060102T150405Z"))

	var buf bytes.Buffer
	if err := store.WriteSnapshot(&buf, now); err != nil {
		return "", err
	}

	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("history: s3 upload: %w", err)
	}
	return key, nil
}
