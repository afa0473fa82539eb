package s3_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/pkg/mangashelf/storage/s3"
)

func TestS3Backend_Configuration(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := s3.New(ctx, s3.Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("StaticCredentials", func(t *testing.T) {
		backend, err := s3.New(ctx, s3.Config{
			Bucket:          "pages",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			Endpoint:        "http://localhost:9000",
			UsePathStyle:    true,
		})
		require.NoError(t, err)
		assert.NotNil(t, backend)
	})

	t.Run("InvalidSSE", func(t *testing.T) {
		_, err := s3.New(ctx, s3.Config{
			Bucket:       "pages",
			EnableSSE:    true,
			SSEAlgorithm: "rot13",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid SSE")
	})
}

func TestCopySource(t *testing.T) {
	tests := []struct {
		bucket, key, want string
	}{
		{"pages", "blobs/a.jpg", "pages/blobs/a.jpg"},
		{"pages", "m/c/1.jpg", "pages/m/c/1.jpg"},
		{"pages", "blobs/a b+c.jpg", "pages/blobs/a%20b+c.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, s3.CopySource(tt.bucket, tt.key))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"})
	assert.True(t, s3.IsNotFound(err))
	assert.True(t, s3.IsNotFound(&types.NotFound{}))
	assert.False(t, s3.IsNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, s3.IsNotFound(fmt.Errorf("boom")))
}
