// Package archive copies generated artifacts from their temporary download
// links into S3.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	maxArtifactSize = 200 << 20
	downloadTimeout = 2 * time.Minute
)

var ErrTooLarge = errors.New("artifact exceeds size limit")

// Uploader is the part of manager.Uploader the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver downloads an artifact and uploads it under <prefix>/<job id><ext>.
type S3Archiver struct {
	uploader Uploader
	http     *http.Client
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// New creates an S3Archiver around an existing uploader.
func New(uploader Uploader, bucket, prefix string, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{
		uploader: uploader,
		http:     &http.Client{Timeout: downloadTimeout},
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		logger:   logger,
	}
}

// NewS3Archiver loads the default AWS configuration and builds an upload manager.
func NewS3Archiver(ctx context.Context, bucket, prefix string, logger *slog.Logger) (*S3Archiver, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(manager.NewUploader(s3.NewFromConfig(cfg)), bucket, prefix, logger), nil
}

// Archive copies sourceURL to S3 and returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, jobID uuid.UUID, sourceURL string) (string, error) {
	data, err := a.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	contentType, ext := detect(data, sourceURL)
	key := a.Key(jobID, ext)

	out, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"job-id": jobID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("archived artifact",
		"job_id", jobID,
		"key", key,
		"content_type", contentType,
		"size", len(data),
		"location", out.Location,
	)
	return key, nil
}

// Key returns the object key for jobID with extension ext.
func (a *S3Archiver) Key(jobID uuid.UUID, ext string) string {
	name := jobID.String() + ext
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

func (a *S3Archiver) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading artifact: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	if len(data) > maxArtifactSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// detect sniffs the content type. Office documents are zip files, so a zip
// takes its extension from the source link when it names one.
func detect(data []byte, sourceURL string) (contentType, ext string) {
	mtype := mimetype.Detect(data)
	contentType, ext = mtype.String(), mtype.Extension()

	if mtype.Is("application/zip") {
		u, err := url.Parse(sourceURL)
		if err == nil && strings.EqualFold(path.Ext(u.Path), ".pptx") {
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"
		}
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType, ext
}
