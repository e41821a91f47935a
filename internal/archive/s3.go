package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"repovault/internal/core"
	"repovault/internal/model"
)

// S3Archive stores archive objects in an S3 bucket. Storage classes map
// onto S3 classes; cold-class objects are fetched through the S3 restore
// mechanism.
type S3Archive struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	prefix    string
}

// NewS3Archive creates an S3 archive on the given bucket. prefix is
// prepended to every object key and may be empty.
func NewS3Archive(awsCfg aws.Config, bucket, prefix string) *S3Archive {
	client := s3.NewFromConfig(awsCfg)
	return &S3Archive{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    prefix,
	}
}

func (a *S3Archive) fullKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimSuffix(a.prefix, "/") + "/" + key
}

func (a *S3Archive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	// The upload manager splits large snapshots into parallel parts.
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(a.bucket),
		Key:          aws.String(a.fullKey(key)),
		Body:         r,
		StorageClass: types.StorageClassStandard,
	})
	if err != nil {
		return core.Transient(fmt.Errorf("uploading %s: %w", key, err))
	}
	return nil
}

func (a *S3Archive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.fullKey(key)),
	})
	if err != nil {
		return nil, mapS3Error("getting", key, err)
	}
	return out.Body, nil
}

func (a *S3Archive) Head(ctx context.Context, key string) (*core.ObjectInfo, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.fullKey(key)),
	})
	if err != nil {
		return nil, mapS3Error("heading", key, err)
	}

	return &core.ObjectInfo{
		Key:          key,
		SizeBytes:    aws.ToInt64(out.ContentLength),
		StorageClass: classFromS3(out.StorageClass),
		Restore:      restoreStateFromHeader(out.Restore),
	}, nil
}

func (a *S3Archive) Transition(ctx context.Context, key string, class model.StorageClass) error {
	full := a.fullKey(key)
	// S3 has no in-place class change; a self-copy with a new class is
	// the supported way to move an object between classes.
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(a.bucket),
		Key:               aws.String(full),
		CopySource:        aws.String(a.bucket + "/" + full),
		StorageClass:      classToS3(class),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return mapS3Error("transitioning", key, err)
	}
	return nil
}

func (a *S3Archive) Restore(ctx context.Context, key string, tier model.RetrievalTier, days int) error {
	_, err := a.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.fullKey(key)),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(int32(days)),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: tierToS3(tier),
			},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "RestoreAlreadyInProgress" {
			return nil
		}
		return mapS3Error("restoring", key, err)
	}
	return nil
}

func (a *S3Archive) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.fullKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return req.URL, nil
}

// mapS3Error folds the SDK's error shapes into the local taxonomy.
func mapS3Error(verb, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return core.NotFound(fmt.Errorf("%s %s: %w", verb, key, err))
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return core.Transient(fmt.Errorf("%s %s: %w", verb, key, err))
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return core.AuthenticationFailure(fmt.Errorf("%s %s: %w", verb, key, err))
		}
	}
	return fmt.Errorf("%s %s: %w", verb, key, err)
}

// restoreStateFromHeader parses the x-amz-restore header. An absent
// header means no restore exists; ongoing-request flips from "true" to
// "false" once the restored copy is ready.
func restoreStateFromHeader(header *string) core.RestoreState {
	if header == nil {
		return core.RestoreNone
	}
	if strings.Contains(*header, `ongoing-request="true"`) {
		return core.RestoreInProgress
	}
	if strings.Contains(*header, `ongoing-request="false"`) {
		return core.RestoreReady
	}
	return core.RestoreNone
}

func classToS3(class model.StorageClass) types.StorageClass {
	switch class {
	case model.ClassWarmIA:
		return types.StorageClassStandardIa
	case model.ClassCold:
		return types.StorageClassGlacier
	case model.ClassDeepCold:
		return types.StorageClassDeepArchive
	default:
		return types.StorageClassStandard
	}
}

func classFromS3(class types.StorageClass) model.StorageClass {
	switch class {
	case types.StorageClassStandardIa:
		return model.ClassWarmIA
	case types.StorageClassGlacier:
		return model.ClassCold
	case types.StorageClassDeepArchive:
		return model.ClassDeepCold
	default:
		// S3 reports an empty class for STANDARD objects.
		return model.ClassHot
	}
}

func tierToS3(tier model.RetrievalTier) types.Tier {
	switch tier {
	case model.TierExpedited:
		return types.TierExpedited
	case model.TierBulk:
		return types.TierBulk
	default:
		return types.TierStandard
	}
}
