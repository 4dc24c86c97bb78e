package drivers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config describes an S3-compatible site
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3API is the subset of the S3 client used by S3Driver
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Driver implements Driver for one bucket of S3-compatible storage
type S3Driver struct {
	name   string
	bucket string
	logger *zap.Logger
	client S3API
}

// NewS3Driver creates a new S3 storage driver
func NewS3Driver(ctx context.Context, name string, cfg S3Config, logger *zap.Logger) (*S3Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 site %s: bucket is required", name)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3DriverWithClient(name, cfg.Bucket, client, logger), nil
}

// NewS3DriverWithClient wraps an existing client
func NewS3DriverWithClient(name, bucket string, client S3API, logger *zap.Logger) *S3Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Driver{
		name:   name,
		bucket: bucket,
		logger: logger,
		client: client,
	}
}

func (d *S3Driver) Name() string {
	return d.name
}

// Stat issues a HeadObject
func (d *S3Driver) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("head object %s/%s: %w", d.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("head object %s/%s: %w", d.bucket, key, err)
	}

	info := &ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
}

// Get retrieves data from S3
func (d *S3Driver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("get object %s/%s: %w", d.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s/%s: %w", d.bucket, key, err)
	}
	return result.Body, nil
}

// Put stores data in S3
func (d *S3Driver) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %s/%s: %w", d.bucket, key, err)
	}
	return nil
}

// Delete removes an object from S3
func (d *S3Driver) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", d.bucket, key, err)
	}
	return nil
}
