package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by the store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores objects in a bucket and returns their virtual-hosted URL.
type S3 struct {
	client  S3API
	bucket  string
	region  string
	baseURL string
	maxSize int64
}

var _ Store = (*S3)(nil)

// NewS3 creates an S3 store. When publicBaseURL is empty, URLs take the form
// https://<bucket>.s3.<region>.amazonaws.com/<key>.
func NewS3(client S3API, bucket, region, publicBaseURL string, maxSize int64) *S3 {
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3{
		client:  client,
		bucket:  bucket,
		region:  region,
		baseURL: base,
		maxSize: maxSize,
	}
}

func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if s.maxSize > 0 && int64(len(body)) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(body), s.maxSize)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"upload-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}

	return s.baseURL + "/" + key, nil
}
