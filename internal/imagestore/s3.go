package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3 (or S3 compatible) bucket
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO
	Endpoint     string
	UsePathStyle bool
	// PublicURL, when set, prefixes the returned references so they can be
	// linked directly
	PublicURL string
}

// S3 implements the Store interface on an S3 bucket
type S3 struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

var _ Store = (*S3)(nil)

// NewS3 creates an S3 store. Without static credentials the default AWS
// credential chain is used.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// objectKey turns a reference returned by Save back into the object key
func (s *S3) objectKey(ref string) (string, error) {
	if s.publicURL != "" {
		ref = strings.TrimPrefix(ref, s.publicURL+"/")
	}
	return cleanKey(ref)
}

// Save uploads the image
func (s *S3) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if !Allowed(contentType) {
		return "", fmt.Errorf("%w: %s", ErrContentTypeNotAllowed, contentType)
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	return key, nil
}

// Get downloads an image
func (s *S3) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := s.objectKey(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Delete removes an image. S3 does not report missing keys on delete.
func (s *S3) Delete(ctx context.Context, ref string) error {
	key, err := s.objectKey(ref)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
