package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"registryproxy/internal/models"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const manifestName = "release.json"

// manifest is the object that marks a release as created.
type manifest struct {
	Tag        string    `json:"tag"`
	Title      string    `json:"title"`
	Notes      string    `json:"notes"`
	Prerelease bool      `json:"prerelease"`
	CreatedAt  time.Time `json:"created_at"`
}

// S3Publisher stores releases in a bucket. A release is the manifest object
// {prefix}{tag}/release.json and its assets sit beside it. Both are written
// with If-None-Match so an existing tag or asset is never overwritten.
type S3Publisher struct {
	client  *s3.Client
	bucket  string
	prefix  string
	baseURL string
}

// NewS3Client builds an S3 client from the default credential chain.
func NewS3Client(ctx context.Context, cfg models.S3Config) (*s3.Client, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Publisher creates a publisher over client.
func NewS3Publisher(client *s3.Client, cfg models.S3Config) *S3Publisher {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Publisher{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		baseURL: baseURL,
	}
}

func (p *S3Publisher) releasePrefix(tag string) string {
	return p.prefix + tag + "/"
}

func (p *S3Publisher) manifestKey(tag string) string {
	return p.releasePrefix(tag) + manifestName
}

func (p *S3Publisher) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return p.baseURL + "/" + strings.Join(parts, "/")
}

func (p *S3Publisher) handle(tag string) Handle {
	return Handle{ID: p.manifestKey(tag), Tag: tag, URL: p.objectURL(p.releasePrefix(tag))}
}

func (p *S3Publisher) CreateRelease(ctx context.Context, tag, title, notes string, prerelease bool) (Handle, error) {
	body, err := json.Marshal(manifest{
		Tag:        tag,
		Title:      title,
		Notes:      notes,
		Prerelease: prerelease,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return Handle{}, fmt.Errorf("failed to encode release manifest: %w", err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.manifestKey(tag)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return Handle{}, fmt.Errorf("%w: %s", ErrReleaseExists, tag)
		}
		return Handle{}, fmt.Errorf("failed to create release %s: %w", tag, err)
	}
	return p.handle(tag), nil
}

func (p *S3Publisher) FindRelease(ctx context.Context, tag string) (Handle, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.manifestKey(tag)),
	})
	if err != nil {
		if isNotFound(err) {
			return Handle{}, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
		}
		return Handle{}, fmt.Errorf("failed to look up release %s: %w", tag, err)
	}
	return p.handle(tag), nil
}

func (p *S3Publisher) UploadAsset(ctx context.Context, h Handle, filename, contentType string, data []byte) (string, error) {
	key := p.releasePrefix(h.Tag) + filename
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"checksum-sha256": models.Checksum(data),
		},
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %s", ErrAssetExists, filename)
		}
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	return p.objectURL(key), nil
}

// DeleteRelease removes the manifest and every asset under the release.
func (p *S3Publisher) DeleteRelease(ctx context.Context, h Handle) error {
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.releasePrefix(h.Tag)),
	})

	var errs []error
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list release %s: %w", h.Tag, err)
		}
		for _, obj := range page.Contents {
			_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(p.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to delete %s: %w", aws.ToString(obj.Key), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (p *S3Publisher) DownloadURL(h Handle, filename string) string {
	return p.objectURL(p.releasePrefix(h.Tag) + filename)
}

// HealthCheck verifies the bucket is reachable.
func (p *S3Publisher) HealthCheck(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isPreconditionFailed(err error) bool {
	code := apiErrorCode(err)
	return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
}

func isNotFound(err error) bool {
	code := apiErrorCode(err)
	return code == "NotFound" || code == "NoSuchKey"
}
