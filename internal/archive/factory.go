package archive

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"repovault/internal/config"
	"repovault/internal/core"
	"repovault/internal/secrets"
)

// NewFromConfig creates an ArchiveStore based on the archive config type.
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig, sec secrets.Provider, clock core.Clock) (core.ArchiveStore, error) {
	switch cfg.Type {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 archive requires s3_bucket to be set")
		}
		awsCfg, err := loadAWSConfig(ctx, cfg.S3Region, sec)
		if err != nil {
			return nil, err
		}
		return NewS3Archive(awsCfg, cfg.S3Bucket, cfg.S3Prefix), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		return NewFilesystemArchive(cfg.FSRoot, clock)
	case "memory":
		return NewMemoryArchive(), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

// loadAWSConfig builds AWS credentials from the secret provider when a
// key pair is configured there, falling back to the SDK's default chain
// (environment, shared config, instance role).
func loadAWSConfig(ctx context.Context, region string, sec secrets.Provider) (awsCfg aws.Config, err error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	if sec != nil {
		accessKey, akErr := sec.Get("aws_access_key_id")
		secretKey, skErr := sec.Get("aws_secret_access_key")
		if akErr == nil && skErr == nil {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
		}
	}

	awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsCfg, fmt.Errorf("loading aws config: %w", err)
	}
	return awsCfg, nil
}
