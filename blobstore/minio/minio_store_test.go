package minio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/blobstore"
	"github.com/hupe1980/annex/blobstore/storetest"
)

func TestMapError(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NotFound"} {
		err := mapError(minio.ErrorResponse{Code: code, StatusCode: 404})
		assert.ErrorIs(t, err, blobstore.ErrNotFound, code)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	assert.NotErrorIs(t, mapError(denied), blobstore.ErrNotFound)

	plain := errors.New("boom")
	assert.Equal(t, plain, mapError(plain))
}

func TestKey(t *testing.T) {
	s := NewStore(nil, "bucket", "annex/")
	assert.Equal(t, "annex/movies/CURRENT", s.key("movies/CURRENT"))

	s = NewStore(nil, "bucket", "")
	assert.Equal(t, "movies/CURRENT", s.key("movies/CURRENT"))
}

// TestMinioStore_Integration requires a running MinIO instance addressed by
// MINIO_ENDPOINT (e.g. localhost:9000).
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping MinIO integration test: MINIO_ENDPOINT not set")
	}
	accessKey := envOr("MINIO_ACCESS_KEY", "minioadmin")
	secretKey := envOr("MINIO_SECRET_KEY", "minioadmin")
	bucket := "test-annex"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	storetest.Run(t, func(t *testing.T) blobstore.Store {
		store := NewStore(client, bucket, fmt.Sprintf("test-%d/", time.Now().UnixNano()))
		t.Cleanup(func() {
			names, _ := store.List(ctx, "")
			for _, name := range names {
				_ = store.Delete(ctx, name)
			}
		})
		return store
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
