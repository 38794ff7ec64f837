// Package archive keeps an immutable JSON copy of every closed position in an
// S3-compatible bucket (AWS S3, MinIO, R2, iDrive e2).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// Config holds the bucket connection settings.
type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// S3Archiver implements ports.Archiver.
type S3Archiver struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds the S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, &domain.ConfigurationError{Field: "archive.bucket", Err: fmt.Errorf("bucket name is required")}
	}
	if cfg.Region == "" {
		return nil, &domain.ConfigurationError{Field: "archive.region", Err: fmt.Errorf("region is required")}
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			// muchos providers compatibles no aceptan los checksums por defecto
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "positions"
	}
	return &S3Archiver{
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Archive writes the position record as JSON. Only closed positions are archived.
func (a *S3Archiver) Archive(ctx context.Context, p domain.Position) error {
	if !p.IsClosed() || p.Close == nil {
		return fmt.Errorf("archive: position %s is not closed", p.ID)
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", p.ID, err)
	}

	key := ObjectKey(a.prefix, p)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// ObjectKey returns prefix/YYYY/MM/DD/<id>.json using the close date.
func ObjectKey(prefix string, p domain.Position) string {
	at := p.LastUpdated
	if p.Close != nil {
		at = p.Close.ClosedAt
	}
	at = at.UTC()
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), p.ID+".json")
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

var _ ports.Archiver = (*S3Archiver)(nil)
