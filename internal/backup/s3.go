package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config locates backups in a bucket. Endpoint is set for S3-compatible
// stores such as MinIO and switches to path-style addressing.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3Store reads and writes backup documents in S3.
type S3Store struct {
	bucket   string
	prefix   string
	uploader *s3manager.Uploader
	s3Svc    *s3.S3
}

func NewS3Store(cfg S3Config, opts ...*aws.Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := &aws.Config{Region: aws.String(region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(append([]*aws.Config{awsCfg}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		uploader: s3manager.NewUploader(sess),
		s3Svc:    s3.New(sess),
	}, nil
}

// Put uploads d under key and returns its s3:// URI.
func (s *S3Store) Put(ctx context.Context, key string, d *Document) (string, error) {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return "", err
	}
	fullKey := s.buildKey(key)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload backup to s3://%s/%s: %w", s.bucket, fullKey, err)
	}
	return s.uri(fullKey), nil
}

// Get downloads and checks the document stored under key.
func (s *S3Store) Get(ctx context.Context, key string) (*Document, error) {
	fullKey := s.buildKey(key)
	out, err := s.s3Svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download backup from s3://%s/%s: %w", s.bucket, fullKey, err)
	}
	defer out.Body.Close()
	return Decode(io.LimitReader(out.Body, 64<<20))
}

func (s *S3Store) buildKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Store) uri(fullKey string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, fullKey)
}

// DefaultKey names a backup after its export time.
func DefaultKey(d *Document) string {
	return "probeboard-export-" + d.ExportedAt.UTC().Format("20060102T150405Z") + ".json"
}
