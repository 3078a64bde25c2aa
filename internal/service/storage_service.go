package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"bulktok/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/rs/zerolog"
)

// StorageService archives finished videos to Supabase Storage and hands
// out presigned download URLs.
type StorageService interface {
	ArchiveVideo(ctx context.Context, key string, body io.Reader) error
	PresignedGetURL(ctx context.Context, key string) (string, error)
}

type storageService struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	logger        zerolog.Logger
}

// NewStorageService creates a StorageService over the given S3 client.
func NewStorageService(s3Client *s3.Client, bucketName string, logger zerolog.Logger) StorageService {
	return &storageService{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    bucketName,
		logger:        logger.With().Str("service", "StorageService").Logger(),
	}
}

// NewS3Client builds an S3 client for the configured Supabase Storage
// endpoint.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	return s3.NewFromConfig(s3Config, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	}), nil
}

// removeDisableGzip is a workaround for S3 signature errors with some
// S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}

func (s *storageService) ArchiveVideo(ctx context.Context, key string, body io.Reader) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to archive video")
		return fmt.Errorf("archive video %s: %w", key, err)
	}
	return nil
}

func (s *storageService) PresignedGetURL(ctx context.Context, key string) (string, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to presign download URL")
		return "", fmt.Errorf("presign download for %s: %w", key, err)
	}
	return req.URL, nil
}
