package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// S3Options configures the S3 client. Endpoint, AccessKey and UsePathStyle
// are needed for MinIO and other S3-compatible stores.
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from the default AWS configuration chain,
// overridden by opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// S3 is a blob store on an S3 bucket.
type S3 struct {
	client *s3.Client
	bucket string
	region string
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewS3 returns a blob store on bucket. region is used as the location
// constraint when the bucket has to be created.
func NewS3(client *s3.Client, bucket, region string, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger.With("component", "blob", "bucket", bucket),
	}
}

func (s *S3) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	switch {
	case err == nil:
	case isNotFound(err):
		input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
		if s.region != "" && s.region != "us-east-1" {
			input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(s.region),
			}
		}
		if _, err := s.client.CreateBucket(ctx, input); err != nil && !hasCode(err, "BucketAlreadyOwnedByYou", "BucketAlreadyExists") {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("Bucket created.")
	default:
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	s.ensured = true
	return nil
}

// Store uploads r as key.
func (s *S3) Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	// PutObject needs a seekable body to sign the payload over plain HTTP.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("%w: failed to read upload for %s: %w", models.ErrStorage, key, err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentTypeOrDefault(contentType)),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to put s3://%s/%s: %w", models.ErrStorage, s.bucket, key, err)
	}
	s.logger.Info("Object stored.", "key", key, "size", size)
	return nil
}

// Open returns a streaming reader for key.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

// Load returns the full content of key, or false on any failure.
func (s *S3) Load(ctx context.Context, key string) ([]byte, bool) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		s.logger.Warn("Could not open object", "key", key, "error", err)
		return nil, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		s.logger.Warn("Could not read object", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Delete removes key. A missing bucket or object is not an error.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		s.logger.Info("Object deleted.", "key", key)
		return nil
	case hasCode(err, "NoSuchBucket"):
		s.logger.Warn("Bucket does not exist; nothing to delete", "key", key)
		return nil
	case isNotFound(err):
		return nil
	default:
		return fmt.Errorf("%w: failed to delete s3://%s/%s: %w", models.ErrStorage, s.bucket, key, err)
	}
}

func isNotFound(err error) bool {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
