package trajectory

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Mirror mirrors finalized trajectories and patches to an S3 bucket, for
// deployments that want a durable off-host copy of run output alongside the
// local persisted-state layout.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror builds an S3Mirror from an already-configured S3 client.
func NewS3Mirror(client *s3.Client, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) Put(ctx context.Context, key string, data []byte) error {
	fullKey := key
	if m.prefix != "" {
		fullKey = m.prefix + "/" + key
	}
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", fullKey, err)
	}
	return nil
}

var _ Mirror = (*S3Mirror)(nil)
