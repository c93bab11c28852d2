package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func TestS3ImageStore_Put(t *testing.T) {
	api := new(mockS3)
	store := &S3ImageStore{client: api, bucket: "avatars"}

	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "avatars" &&
			aws.ToString(in.Key) == "profiles/u1/a.jpg" &&
			aws.ToString(in.ContentType) == ProfileImageContentType &&
			aws.ToInt64(in.ContentLength) == 3
	})).Return(&s3.PutObjectOutput{}, nil)

	require.NoError(t, store.Put(context.Background(), "profiles/u1/a.jpg", []byte("abc"), ProfileImageContentType))
	api.AssertExpectations(t)
}

func TestS3ImageStore_Open(t *testing.T) {
	t.Run("returns body", func(t *testing.T) {
		api := new(mockS3)
		store := &S3ImageStore{client: api, bucket: "avatars"}
		api.On("GetObject", mock.Anything, mock.Anything).
			Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("img"))}, nil)

		rc, err := store.Open(context.Background(), "k")
		require.NoError(t, err)
		body, _ := io.ReadAll(rc)
		assert.Equal(t, "img", string(body))
	})

	t.Run("missing key maps to not found", func(t *testing.T) {
		api := new(mockS3)
		store := &S3ImageStore{client: api, bucket: "avatars"}
		api.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

		_, err := store.Open(context.Background(), "k")
		assert.ErrorIs(t, err, model.ErrImageNotFound)
	})
}

func TestS3ImageStore_DeleteError(t *testing.T) {
	api := new(mockS3)
	store := &S3ImageStore{client: api, bucket: "avatars"}
	api.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	err := store.Delete(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3ImageStore_RequiresBucket(t *testing.T) {
	_, err := NewS3ImageStore(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
