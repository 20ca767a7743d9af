// Package storage uploads proof images to object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Uploader stores a blob under key and returns a URL the vision model can fetch.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type putter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader writes proofs to s3://<bucket>/<prefix>/YYYY/MM/DD/<key>.
type S3Uploader struct {
	bucket    string
	prefix    string
	publicURL string
	uploader  putter
	now       func() time.Time
}

// NewS3Uploader loads AWS config from the environment. When publicURL is set,
// returned URLs are publicURL/<object key> instead of the S3 location.
func NewS3Uploader(ctx context.Context, bucket, prefix, publicURL string) (*S3Uploader, error) {
	if bucket == "" {
		return nil, errors.New("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Uploader(manager.NewUploader(s3.NewFromConfig(cfg)), bucket, prefix, publicURL), nil
}

func newS3Uploader(p putter, bucket, prefix, publicURL string) *S3Uploader {
	return &S3Uploader{
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
		uploader:  p,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *S3Uploader) objectKey(key string) string {
	year, month, day := s.now().Date()
	return path.Join(s.prefix,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		key,
	)
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := s.objectKey(key)
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	if s.publicURL != "" {
		return s.publicURL + "/" + objectKey, nil
	}
	return out.Location, nil
}
