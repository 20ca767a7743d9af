package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key)}, nil
}

func fixedNow() time.Time { return time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC) }

func TestS3Uploader_Upload(t *testing.T) {
	p := &fakePutter{}
	u := newS3Uploader(p, "proofs-bucket", "/proofs/", "")
	u.now = fixedNow

	url, err := u.Upload(context.Background(), "p1/a1/abc", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3.amazonaws.com/proofs/2026/03/07/p1/a1/abc", url)
	assert.Equal(t, "proofs-bucket", aws.ToString(p.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(p.input.ContentType))
	assert.Equal(t, []byte("png"), p.body)
}

func TestS3Uploader_PublicURL(t *testing.T) {
	u := newS3Uploader(&fakePutter{}, "b", "", "https://cdn.example.com/")
	u.now = fixedNow

	url, err := u.Upload(context.Background(), "k", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/2026/03/07/k", url)
}

func TestS3Uploader_Error(t *testing.T) {
	u := newS3Uploader(&fakePutter{err: errors.New("denied")}, "b", "", "")
	_, err := u.Upload(context.Background(), "k", []byte("x"), "image/jpeg")
	assert.ErrorContains(t, err, "denied")
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), "", "", "")
	assert.Error(t, err)
}
