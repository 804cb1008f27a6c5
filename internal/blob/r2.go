package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Caia-Tech/caia-harvest/pkg/logging"
)

// R2Config holds Cloudflare R2 credentials. R2 speaks the S3 API against a
// per-account endpoint.
type R2Config struct {
	AccountID       string `json:"account_id"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
}

// Enabled reports whether all credential fields are present.
func (c *R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// R2Store implements Store against an R2 (or any S3-API) bucket.
type R2Store struct {
	client *s3.Client
	bucket string
}

// NewR2Store builds an S3 client pointed at the account's R2 endpoint.
func NewR2Store(ctx context.Context, cfg *R2Config) (*R2Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("r2 credentials incomplete")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	logger := logging.GetStorageLogger("init", "r2")
	logger.Info().
		Str("bucket", cfg.Bucket).
		Msg("R2 blob store initialized")

	return &R2Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *R2Store) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *R2Store) Write(ctx context.Context, key string, data []byte) error {
	// Explicit ContentLength: R2 rejects streaming puts of unknown length.
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *R2Store) WriteIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Write(ctx, key, data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *R2Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

func (s *R2Store) List(ctx context.Context, prefix string) (<-chan string, <-chan error) {
	keys := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(keys)
		defer close(errc)

		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errc <- fmt.Errorf("list %s: %w", prefix, err)
				return
			}
			for _, obj := range page.Contents {
				select {
				case keys <- aws.ToString(obj.Key):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return keys, errc
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	// HeadObject surfaces 404s without a modeled type in some SDK paths.
	return strings.Contains(err.Error(), "StatusCode: 404") ||
		strings.Contains(err.Error(), "NotFound")
}
