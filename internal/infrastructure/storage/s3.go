package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"infoportal/internal/bootstrap/config"
	"infoportal/internal/errs"
	"infoportal/internal/ports"
)

// S3Storage keeps attachments in an S3 (or S3-compatible) bucket under a
// configured key prefix.
type S3Storage struct {
	client        *s3.Client
	bucket        string
	prefix        string
	publicBaseURL string
	signer        *Signer
}

var _ ports.FileStorage = (*S3Storage)(nil)

func NewS3Storage(ctx context.Context, cfg config.S3Config, publicBaseURL string, signer *Signer) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(err, "load aws config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3Storage{
		client:        s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:        signer,
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errs.Wrap(err, "s3 put object")
	}
	return nil
}

func (s *S3Storage) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fs.ErrNotExist
		}
		return nil, errs.Wrap(err, "s3 get object")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, "s3 read body")
	}
	return data, nil
}

// Remove deletes every object under the prefix so one call can drop a whole
// submission or form directory.
func (s *S3Storage) Remove(ctx context.Context, path string) error {
	fullPrefix := s.prefix + path

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errs.Wrap(err, "s3 list objects")
		}
		for _, obj := range page.Contents {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return errs.Wrap(err, "s3 delete object")
			}
		}
	}
	return nil
}

func (s *S3Storage) URL(path string) string {
	return s.publicBaseURL + "/api/attachments/" + strings.TrimLeft(path, "/")
}

func (s *S3Storage) SignedURL(path string, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", errors.New("signer is not configured")
	}
	token, err := s.signer.Sign(path, ttl)
	if err != nil {
		return "", err
	}
	return s.publicBaseURL + "/api/attachments/signed/" + token, nil
}

func (s *S3Storage) VerifySignedToken(token string) (string, error) {
	if s.signer == nil {
		return "", errors.New("signer is not configured")
	}
	return s.signer.Verify(token)
}
