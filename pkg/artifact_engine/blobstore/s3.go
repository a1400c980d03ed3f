package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Store implements Client against AWS S3 (or MinIO/LocalStack via a
// custom endpoint).
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// S3Config holds configuration for S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
}

// NewS3Store creates a new S3-backed blob store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}
	client := s3.NewFromConfig(awsCfg, clientOpts)

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

// IssueUploadCredential presigns a PUT for the exact key, valid for ttl.
func (s *S3Store) IssueUploadCredential(ctx context.Context, key string, ttl time.Duration) (*UploadCredential, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return nil, fmt.Errorf("presign put for %s failed: %w", key, err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &UploadCredential{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// Exists checks whether a blob is present at key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head failed for %s: %w", key, err)
	}
	return true, nil
}

// HeadSize returns the byte size of the blob at key.
func (s *S3Store) HeadSize(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("s3 head failed for %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
