package s3_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme/autocert"

	"github.com/dmitrymomot/autotls/integration/storage/s3"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3aws.PutObjectInput, _ ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3aws.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3aws.GetObjectInput, _ ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3aws.GetObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3aws.DeleteObjectInput, _ ...func(*s3aws.Options)) (*s3aws.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3aws.DeleteObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func newCache(t *testing.T, client *mockS3Client) *s3.Cache {
	t.Helper()
	c, err := s3.New(context.Background(), s3.Config{
		Bucket: "certs",
		Region: "us-east-1",
		Prefix: "autotls/",
	}, s3.WithS3Client(client))
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := s3.New(context.Background(), s3.Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, s3.ErrInvalidConfig)

	_, err = s3.New(context.Background(), s3.Config{Bucket: "certs"})
	assert.ErrorIs(t, err, s3.ErrInvalidConfig)
}

func TestCachePut(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3aws.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return aws.ToString(in.Bucket) == "certs" &&
			aws.ToString(in.Key) == "autotls/example.test" &&
			in.ServerSideEncryption == types.ServerSideEncryptionAes256 &&
			bytes.Equal(body, []byte("pem"))
	})).Return(&s3aws.PutObjectOutput{}, nil)

	c := newCache(t, client)
	require.NoError(t, c.Put(context.Background(), "example.test", []byte("pem")))
	client.AssertExpectations(t)
}

func TestCacheGet(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3aws.GetObjectInput) bool {
			return aws.ToString(in.Key) == "autotls/acme_account+abc"
		})).Return(&s3aws.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("data")))}, nil)

		got, err := newCache(t, client).Get(context.Background(), "acme_account+abc")
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), got)
		client.AssertExpectations(t)
	})

	t.Run("missing object", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

		_, err := newCache(t, client).Get(context.Background(), "example.test")
		assert.ErrorIs(t, err, autocert.ErrCacheMiss)
	})

	t.Run("access denied", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		client.On("GetObject", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"})

		_, err := newCache(t, client).Get(context.Background(), "example.test")
		assert.ErrorIs(t, err, s3.ErrAccessDenied)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		client.On("GetObject", mock.Anything, mock.Anything).Return(nil, context.Canceled)

		_, err := newCache(t, client).Get(context.Background(), "example.test")
		assert.ErrorIs(t, err, s3.ErrOperationCanceled)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		t.Parallel()
		client := &mockS3Client{}
		c := newCache(t, client)

		for _, key := range []string{"", "../secret", "a/b"} {
			_, err := c.Get(context.Background(), key)
			assert.ErrorIs(t, err, s3.ErrInvalidKey, key)
		}
		client.AssertNotCalled(t, "GetObject", mock.Anything, mock.Anything)
	})
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{}
	client.On("DeleteObject", mock.Anything, mock.Anything).Return(&s3aws.DeleteObjectOutput{}, nil).Once()
	client.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	c := newCache(t, client)
	require.NoError(t, c.Delete(context.Background(), "example.test"))
	assert.Error(t, c.Delete(context.Background(), "example.test"))
	client.AssertExpectations(t)
}
