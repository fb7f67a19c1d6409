package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// Config selects the bucket published PDFs are mirrored to. Endpoint and
// static keys are only needed for S3-compatible stores.
type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	PartSize  int64
}

// S3Mirror uploads published PDFs to S3.
type S3Mirror struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Mirror creates a mirror for cfg.Bucket.
func NewS3Mirror(ctx context.Context, cfg Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 mirror: bucket is required")
	}
	var opts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsConf, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	uploader := manager.NewUploader(cli, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
	})
	return &S3Mirror{client: cli, uploader: uploader, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectKey joins the mirror prefix and key.
func ObjectKey(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(strings.Trim(prefix, "/"), key)
}

// Upload stores the file at localPath under key and returns its location.
// An object of the same size already at key is left alone.
func (m *S3Mirror) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	objKey := ObjectKey(m.prefix, key)
	if size, ok, err := m.size(ctx, objKey); err == nil && ok && size == st.Size() {
		log.Debug().Str("key", objKey).Msg("object already mirrored")
		return fmt.Sprintf("s3://%s/%s", m.bucket, objKey), nil
	}

	out, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(objKey),
		Body:        f,
		ContentType: aws.String("application/pdf"),
		Metadata:    map[string]string{"name": path.Base(key)},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", objKey, err)
	}
	log.Info().Str("bucket", m.bucket).Str("key", objKey).Int64("size", st.Size()).Msg("pdf uploaded")
	if out.Location != "" {
		return out.Location, nil
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, objKey), nil
}

func (m *S3Mirror) size(ctx context.Context, key string) (int64, bool, error) {
	out, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// Ping checks that the bucket is reachable.
func (m *S3Mirror) Ping(ctx context.Context) error {
	_, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)})
	return err
}
