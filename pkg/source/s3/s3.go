package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/gotempus/pkg/source"
)

// Source implements source.Source for AWS S3 and S3-compatible storage.
type Source struct {
	client  *s3.Client
	bucket  string
	maxKeys int
}

// Ensure Source implements the interface.
var _ source.Source = (*Source)(nil)

// New creates a new S3 source with the given configuration.
//
// The source uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &source.SourceError{
			Op:     "New",
			Source: source.TypeS3,
			Bucket: cfg.Bucket,
			Err:    err,
		}
	}

	// Build S3 client options
	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Source{
		client:  client,
		bucket:  cfg.Bucket,
		maxKeys: maxKeys,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Set profile if specified
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Apply region defaulting logic
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// List returns a page of objects with the given prefix.
func (s *Source) List(ctx context.Context, opts source.ListOptions) (*source.ListResult, error) {
	maxKeys := clampMaxKeys(opts.MaxKeys, s.maxKeys)

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(maxKeys)),
	}

	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}

	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, s.wrapError("List", "", err)
	}

	objects := make([]source.ObjectInfo, 0, len(output.Contents))
	for _, obj := range output.Contents {
		objects = append(objects, source.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	result := &source.ListResult{
		Objects:     objects,
		IsTruncated: aws.ToBool(output.IsTruncated),
	}

	if output.NextContinuationToken != nil {
		result.ContinuationToken = *output.NextContinuationToken
	}

	return result, nil
}

// Head returns metadata for a single object.
func (s *Source) Head(ctx context.Context, key string) (*source.ObjectInfo, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	output, err := s.client.HeadObject(ctx, input)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}

	return &source.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		ETag:         cleanETag(aws.ToString(output.ETag)),
		LastModified: aws.ToTime(output.LastModified),
	}, nil
}

// Open streams the content of a single object.
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, 0, s.wrapError("Open", key, err)
	}

	return output.Body, aws.ToInt64(output.ContentLength), nil
}

// Close releases any resources held by the source.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (s *Source) Close() error {
	return nil
}

// wrapError converts S3 errors to source errors with appropriate sentinel errors.
func (s *Source) wrapError(op, key string, err error) error {
	wrapped := &source.SourceError{
		Op:     op,
		Source: source.TypeS3,
		Bucket: s.bucket,
		Key:    key,
		Err:    err,
	}

	// Check for specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = source.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = source.ErrBucketNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound":
			wrapped.Err = source.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = source.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = source.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = source.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = source.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = source.ErrUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		wrapped.Err = source.ErrNotFound
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = source.ErrBucketNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = source.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = source.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = source.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = source.ErrUnavailable
	}

	return wrapped
}

// cleanETag removes surrounding quotes from an ETag value.
// S3 returns ETags with quotes, e.g., "d41d8cd98f00b204e9800998ecf8427e".
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// clampMaxKeys applies defaults and limits to maxKeys values.
// If requested is <= 0, uses sourceDefault. Result is clamped to MaxAllowedKeys.
func clampMaxKeys(requested, sourceDefault int) int {
	if requested <= 0 {
		requested = sourceDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion determines the final region to use after SDK config loading.
//
// The sdkRegion parameter is the region after SDK loading, which already
// incorporates explicit cfgRegion (if set) or env/profile resolution.
//
// Priority (already applied by SDK before this function):
//  1. Explicit cfgRegion (passed to SDK via config.WithRegion)
//  2. Environment variables (AWS_REGION, AWS_DEFAULT_REGION)
//  3. Shared config/credentials profile
//
// This function only applies the fallback default:
//   - If sdkRegion is still empty AND no custom endpoint, default to us-east-1
//   - For S3-compatible stores (endpoint set), no defaulting occurs
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	// SDK already resolved region (from explicit config, env, or profile)
	if sdkRegion != "" {
		return sdkRegion
	}

	// Only default for AWS S3 (no custom endpoint)
	if endpoint == "" {
		return DefaultAWSRegion
	}

	// S3-compatible: no default, source may not need region
	return ""
}
