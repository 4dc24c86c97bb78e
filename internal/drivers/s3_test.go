package drivers

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory S3API
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	mod     time.Time
	putErr  error
	lastLen *int64
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, mod: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"abc123"`),
		LastModified:  aws.Time(f.mod),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.lastLen = in.ContentLength
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Driver(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip with head metadata", func(t *testing.T) {
		fake := newFakeS3()
		d := NewS3DriverWithClient("aws-east", "tier-bucket", fake, nil)

		require.NoError(t, d.Put(ctx, "k", bytes.NewReader([]byte("hello")), 5))
		require.NotNil(t, fake.lastLen)
		assert.Equal(t, int64(5), *fake.lastLen)

		info, err := d.Stat(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(5), info.Size)
		assert.Equal(t, "abc123", info.ETag)
		assert.Equal(t, fake.mod, info.ModTime)

		sum, n, err := DigestObject(ctx, d, "k")
		require.NoError(t, err)
		want, _, _ := Digest(bytes.NewReader([]byte("hello")))
		assert.Equal(t, want, sum)
		assert.Equal(t, int64(5), n)
	})

	t.Run("missing object is ErrNotFound", func(t *testing.T) {
		d := NewS3DriverWithClient("aws-east", "tier-bucket", newFakeS3(), nil)
		_, err := d.Stat(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = d.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("throttling from the service stays classifiable", func(t *testing.T) {
		fake := newFakeS3()
		fake.putErr = &smithy.GenericAPIError{Code: "SlowDown"}
		d := NewS3DriverWithClient("aws-east", "tier-bucket", fake, nil)

		err := d.Put(ctx, "k", bytes.NewReader([]byte("x")), -1)
		require.Error(t, err)
		assert.True(t, IsThrottling(err))
	})
}
