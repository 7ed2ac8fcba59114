package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures Uploader.
type S3Config struct {
	Bucket       string
	Region       string
	Prefix       string
	Endpoint     string // S3-compatible endpoint override (MinIO, LocalStack)
	UsePathStyle bool

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	Timeout time.Duration
}

// PutObjectAPI is the subset of the S3 client Uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader stores finished exports in an S3 bucket.
type Uploader struct {
	cfg    S3Config
	client PutObjectAPI
}

// NewUploader builds an S3 client from the default AWS credential chain,
// overridden by static credentials when both key fields are set.
func NewUploader(ctx context.Context, cfg S3Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 upload: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewUploaderWithClient(cfg, client), nil
}

// NewUploaderWithClient wraps an existing client.
func NewUploaderWithClient(cfg S3Config, client PutObjectAPI) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Uploader{cfg: cfg, client: client}
}

// Key returns the object key for name under the configured prefix.
func (u *Uploader) Key(name string) string {
	if u.cfg.Prefix == "" {
		return name
	}
	return path.Join(u.cfg.Prefix, name)
}

// Upload serializes rows in format f and stores them as name. It returns
// the s3:// URI of the object.
func (u *Uploader) Upload(ctx context.Context, name string, f Format, rows []Row) (string, error) {
	var buf bytes.Buffer
	if err := Write(ctx, &buf, f, rows); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	key := u.Key(name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String(f.ContentType()),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.cfg.Bucket, key), nil
}
