package ufs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/pagedfs/internal/logger"
)

// S3Config holds configuration for an S3-backed UFS.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region.
	Region string

	// Endpoint overrides the S3 endpoint, for S3-compatible stores
	// (MinIO, localstack). Optional.
	Endpoint string

	// AccessKey and SecretKey are static credentials. When empty the
	// default AWS credential chain is used.
	AccessKey string
	SecretKey string

	// ForcePathStyle addresses the bucket in the URL path instead of
	// the host name. Required by most S3-compatible stores.
	ForcePathStyle bool
}

// S3UFS serves UFS reads from an S3 bucket. Object keys are the UFS
// paths with the leading slash stripped.
type S3UFS struct {
	client *s3.Client
	bucket string
}

// NewS3UFS creates an S3-backed UFS.
func NewS3UFS(ctx context.Context, cfg S3Config) (*S3UFS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 ufs bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3UFS{client: client, bucket: cfg.Bucket}, nil
}

func s3Key(path string) string {
	return strings.TrimPrefix(path, "/")
}

// GetStatus returns the status of a single object.
func (u *S3UFS) GetStatus(ctx context.Context, path string) (FileStatus, error) {
	out, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(s3Key(path)),
	})
	if err != nil {
		return FileStatus{}, classifyS3Error(err)
	}

	status := FileStatus{
		Path:    path,
		UfsPath: path,
		Length:  uint64(aws.ToInt64(out.ContentLength)),
	}
	if out.LastModified != nil {
		status.LastModified = *out.LastModified
	}
	return status, nil
}

// ListStatus enumerates the objects under path. S3 has no real
// directories, so recursive listing walks the full key prefix and
// non-recursive listing stops at the first delimiter.
func (u *S3UFS) ListStatus(ctx context.Context, path string, recursive bool) ([]FileStatus, error) {
	prefix := s3Key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var statuses []FileStatus
	paginator := s3.NewListObjectsV2Paginator(u.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			status := FileStatus{
				Path:    "/" + key,
				UfsPath: "/" + key,
				Length:  uint64(aws.ToInt64(obj.Size)),
			}
			if obj.LastModified != nil {
				status.LastModified = *obj.LastModified
			}
			statuses = append(statuses, status)
		}
	}
	if len(statuses) == 0 {
		// distinguish an empty directory from a missing one
		if _, err := u.GetStatus(ctx, path); err != nil {
			return nil, err
		}
	}
	return statuses, nil
}

// Open returns a positioned reader for the object at path.
func (u *S3UFS) Open(ctx context.Context, path string) (PositionReader, error) {
	// verify existence up front so the caller gets ErrFileNotFound at
	// open time, not on the first read
	if _, err := u.GetStatus(ctx, path); err != nil {
		return nil, err
	}
	return &s3ObjectReader{client: u.client, bucket: u.bucket, key: s3Key(path)}, nil
}

// s3ObjectReader reads byte ranges of one object with ranged GETs.
type s3ObjectReader struct {
	client *s3.Client
	bucket string
	key    string
}

// ReadAt reads len(p) bytes at offset off using an HTTP range request.
func (r *s3ObjectReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)
	out, err := r.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isInvalidRangeError(err) {
			return 0, io.EOF
		}
		return 0, classifyS3Error(err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// short object tail
		return n, io.EOF
	}
	return n, err
}

func (r *s3ObjectReader) Close() error {
	return nil
}

// classifyS3Error maps AWS errors onto the UFS error taxonomy.
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	if isNotFoundError(err) {
		return ErrFileNotFound
	}
	if isRetryableError(err) {
		logger.Warn("transient s3 error", logger.KeyError, err.Error())
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

// isRetryableError returns true if the error is transient.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			return true
		case "InternalError", "ServiceUnavailable":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout")
}

// isInvalidRangeError returns true for reads past the end of an object.
func isInvalidRangeError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidRange"
	}
	return false
}
