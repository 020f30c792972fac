package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// MaxAttempts bounds the SDK retryer per request, first attempt included.
	MaxAttempts int
	// MaxUnitBytes rejects larger objects on Get; zero means no limit.
	MaxUnitBytes int64
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		MaxAttempts:  4,
		MaxUnitBytes: 256 << 20,
	}
}

// s3API is the subset of the S3 client used to read and write units.
type s3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Storage serves input units from an S3 bucket. Retries are left to the
// SDK's standard retryer.
type S3Storage struct {
	client   s3API
	bucket   string
	maxBytes int64
}

// NewS3Storage creates an S3 store using the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Storage(client, bucket, cfg), nil
}

func newS3Storage(client s3API, bucket string, cfg S3Config) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, maxBytes: cfg.MaxUnitBytes}
}

// Put uploads a unit. S3 makes an object visible only once the upload completes.
func (s *S3Storage) Put(ctx context.Context, objectPath string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectPath),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: s3://%s/%s: %v", ErrUploadFailed, s.bucket, objectPath, err)
	}
	return nil
}

// Get downloads a unit.
func (s *S3Storage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrDownloadFailed, s.bucket, objectPath, err)
	}
	defer resp.Body.Close()

	size := aws.ToInt64(resp.ContentLength)
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%w: s3://%s/%s is %d bytes, limit %d",
			ErrDownloadFailed, s.bucket, objectPath, size, s.maxBytes)
	}

	body := io.Reader(resp.Body)
	if s.maxBytes > 0 {
		body = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrDownloadFailed, s.bucket, objectPath, err)
	}
	if s.maxBytes > 0 && int64(buf.Len()) > s.maxBytes {
		return nil, fmt.Errorf("%w: s3://%s/%s exceeds %d bytes", ErrDownloadFailed, s.bucket, objectPath, s.maxBytes)
	}
	return buf.Bytes(), nil
}

// ListObjects returns the unit keys under prefix in lexical order. Console
// folder placeholders (keys ending in "/") are skipped.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrListFailed, s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}

	// S3 lists in UTF-8 binary order already; sorting keeps the contract
	// for S3-compatible stores that do not.
	sort.Strings(keys)
	return keys, nil
}
