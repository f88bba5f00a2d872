// Package storage archives issued invoice documents in MinIO.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// PresignTTL is how long generated document links stay valid
const PresignTTL = 24 * time.Hour

// Config describes the MinIO endpoint
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Bucket stores documents in one MinIO bucket
type Bucket struct {
	client *minio.Client
	name   string
	log    zerolog.Logger
}

// Open connects to MinIO and checks that the bucket exists
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Bucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("document storage ready")
	return &Bucket{client: client, name: cfg.Bucket, log: log}, nil
}

// ObjectName builds the archive path {phone}/YYYY/MM/{filename}
func ObjectName(phone, filename string, at time.Time) string {
	return fmt.Sprintf("%s/%d/%02d/%s", phone, at.Year(), at.Month(), filename)
}

// Upload stores a document and returns its bucket-qualified path
func (b *Bucket) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := b.client.PutObject(ctx, b.name, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	b.log.Debug().Str("object", objectName).Int64("size", size).Msg("document uploaded")
	return b.name + "/" + objectName, nil
}

// UploadDocument stores an in-memory document under the phone's archive path
func (b *Bucket) UploadDocument(ctx context.Context, phone, filename string, body []byte, contentType string, at time.Time) (string, error) {
	return b.Upload(ctx, ObjectName(phone, filename, at), bytes.NewReader(body), int64(len(body)), contentType)
}

// PresignedURL generates a temporary download link
func (b *Bucket) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	url, err := b.client.PresignedGetObject(ctx, b.name, trimBucket(b.name, objectPath), PresignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Delete removes a document
func (b *Bucket) Delete(ctx context.Context, objectPath string) error {
	return b.client.RemoveObject(ctx, b.name, trimBucket(b.name, objectPath), minio.RemoveObjectOptions{})
}

// Healthy reports whether the bucket is reachable
func (b *Bucket) Healthy(ctx context.Context) bool {
	ok, err := b.client.BucketExists(ctx, b.name)
	return err == nil && ok
}

func trimBucket(bucket, objectPath string) string {
	return strings.TrimPrefix(objectPath, bucket+"/")
}

// FileExtension maps a document content type to a file extension
func FileExtension(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "application/xml", "text/xml":
		return ".xml"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}
