// Package media stores letter attachments in S3-compatible object storage.
// The server never proxies attachment bytes; clients upload and download
// through short-lived presigned URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const presignTTL = 15 * time.Minute

var ErrInvalidInput = errors.New("invalid input")

// Config describes the object storage target.
type Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string

	// Endpoint points at a non-AWS S3 implementation (MinIO, LocalStack).
	// Empty means real AWS.
	Endpoint string
}

// Storage issues presigned URLs for letter attachments.
type Storage struct {
	bucket  string
	presign *s3.PresignClient
}

// Seams for tests.
var (
	newPresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// NewStorage constructs a Storage from config.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrInvalidInput
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Storage{bucket: cfg.Bucket, presign: newPresignClient(client)}, nil
}

// NewAttachmentKey mints a storage key for an upload by the given user.
// Keys are namespaced per uploader so access checks can be derived from the
// key alone.
func NewAttachmentKey(userID string) string {
	return fmt.Sprintf("attachments/%s/%s", userID, uuid.NewString())
}

// OwnerOf extracts the uploader's user id from an attachment key.
func OwnerOf(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "attachments" || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[1], true
}

// PresignPut returns a URL the client can PUT attachment bytes to.
func (s *Storage) PresignPut(ctx context.Context, key string) (string, error) {
	if s == nil || s.presign == nil {
		return "", ErrInvalidInput
	}
	if _, ok := OwnerOf(key); !ok {
		return "", ErrInvalidInput
	}

	req, err := presignPutObject(s.presign, ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// PresignGet returns a URL the client can GET attachment bytes from.
func (s *Storage) PresignGet(ctx context.Context, key string) (string, error) {
	if s == nil || s.presign == nil {
		return "", ErrInvalidInput
	}
	if _, ok := OwnerOf(key); !ok {
		return "", ErrInvalidInput
	}

	req, err := presignGetObject(s.presign, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
