// Package uploader ships finished chat archives to S3.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/afero"

	"github.com/john/orchid/internal/recorder"
)

// objectPutter is the part of the S3 client the uploader uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures an Uploader.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string // S3-compatible services; enables path-style addressing

	// RoleARN selects OIDC web identity auth; otherwise the static keys
	// are used.
	RoleARN         string
	AccessKeyID     string
	SecretAccessKey string

	DeleteAfter bool
	MaxRetries  int
	BaseBackoff time.Duration
}

// Uploader handles uploading completed archive files to S3
type Uploader struct {
	fs          afero.Fs
	client      objectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	baseBackoff time.Duration

	wg sync.WaitGroup
}

// New builds an S3 client from opts and returns an uploader reading files
// from fs.
func New(ctx context.Context, fs afero.Fs, opts Options) (*Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.RoleARN == "" && opts.AccessKeyID != "" {
		slog.Warn("using static S3 credentials; prefer OIDC role auth")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		slog.Info("using OIDC authentication", "role", opts.RoleARN)
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(cfg),
			opts.RoleARN,
			newFlyTokenRetriever(flyAPISocket, stsAudience),
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newUploader(fs, client, opts), nil
}

func newUploader(fs afero.Fs, client objectPutter, opts Options) *Uploader {
	backoff := opts.BaseBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Uploader{
		fs:          fs,
		client:      client,
		bucket:      opts.Bucket,
		deleteAfter: opts.DeleteAfter,
		maxRetries:  opts.MaxRetries,
		baseBackoff: backoff,
	}
}

// ScanAndUploadExisting queues every .jsonl file left in dir by a previous run.
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, dir string) error {
	slog.Info("scanning for existing archives", "dir", dir)

	entries, err := afero.ReadDir(u.fs, dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var found int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		found++
		u.upload(ctx, filepath.Join(dir, entry.Name()))
	}

	slog.Info("existing archives queued", "count", found)
	return nil
}

// Start uploads files as they arrive until ctx is cancelled. In-flight
// uploads are waited for.
func (u *Uploader) Start(ctx context.Context, files <-chan string) error {
	for {
		select {
		case path := <-files:
			u.upload(ctx, path)
		case <-ctx.Done():
			slog.Info("uploader shutting down")
			u.wg.Wait()
			return ctx.Err()
		}
	}
}

// Wait blocks until every queued upload has finished.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) upload(ctx context.Context, path string) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.uploadWithRetry(ctx, path)
	}()
}

func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) {
	filename := filepath.Base(localPath)

	key, err := generateS3Key(filename)
	if err != nil {
		slog.Error("cannot derive S3 key", "file", filename, "error", err)
		return
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, key)
		if err == nil {
			slog.Info("uploaded archive", "file", filename, "bucket", u.bucket, "key", key)
			if u.deleteAfter {
				if err := u.fs.Remove(localPath); err != nil {
					slog.Error("failed to delete local archive", "file", localPath, "error", err)
				}
			}
			return
		}

		if attempt < u.maxRetries {
			backoff := u.baseBackoff << uint(attempt)
			slog.Warn("upload failed, retrying",
				"file", filename, "attempt", attempt+1, "max_retries", u.maxRetries, "backoff", backoff, "error", err)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}

	slog.Error("giving up on upload", "file", filename, "attempts", u.maxRetries+1)
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := u.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// generateS3Key maps an archive file name to its object key.
// Input: twitch_ludwig_20251230_1030.jsonl
// Output: 2025/12/30/twitch/ludwig/twitch_ludwig_20251230_1030.jsonl
func generateS3Key(filename string) (string, error) {
	name := strings.TrimSuffix(filename, ".jsonl")

	// Channel names may contain underscores, so parse from the end
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	platform := parts[0]
	channel := strings.Join(parts[1:len(parts)-2], "_")
	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]

	t, err := time.Parse(recorder.FileTimeLayout, stamp)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s",
		t.Year(), t.Month(), t.Day(), platform, channel, filename), nil
}
