package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultURLExpiry is used when GenerateURL is asked for a non-positive expiry.
const DefaultURLExpiry = time.Hour

// S3Driver stores result logs in an S3-compatible bucket.
type S3Driver struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	publicURL string // objects are served from here when set, instead of presigned URLs
}

func NewS3Driver(client *s3.Client, bucket string, publicURL string) *S3Driver {
	return &S3Driver{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Save uploads a result log with an explicit content length. Bodies whose size
// cannot be determined are buffered first so the request can always be signed.
func (d *S3Driver) Save(ctx context.Context, key string, body io.Reader, contentType string) error {
	size, ok := contentLength(body)
	if !ok {
		buf, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to buffer %s: %w", key, err)
		}
		body, size = bytes.NewReader(buf), int64(len(buf))
	}

	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(d.bucket),
		Key:                aws.String(key),
		Body:               body,
		ContentLength:      aws.Int64(size),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(key))),
		CacheControl:       aws.String("no-store"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", key, d.bucket, err)
	}
	return nil
}

// contentLength reports the remaining size of files and in-memory readers.
func contentLength(body io.Reader) (int64, bool) {
	switch b := body.(type) {
	case interface{ Len() int }:
		return int64(b.Len()), true
	case *os.File:
		info, err := b.Stat()
		if err != nil || !info.Mode().IsRegular() {
			return 0, false
		}
		offset, err := b.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return info.Size() - offset, true
	default:
		return 0, false
	}
}

// Get streams a stored log back. A missing key is reported as os.ErrNotExist.
func (d *S3Driver) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", fmt.Errorf("%s: %w", key, os.ErrNotExist)
		}
		return nil, "", fmt.Errorf("failed to get %s from bucket %s: %w", key, d.bucket, err)
	}
	contentType := aws.ToString(resp.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return resp.Body, contentType, nil
}

func (d *S3Driver) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from bucket %s: %w", key, d.bucket, err)
	}
	return nil
}

// GenerateURL returns the public URL of key, or a presigned GET valid for expires.
func (d *S3Driver) GenerateURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if d.publicURL != "" {
		return d.publicURL + "/" + key, nil
	}
	if expires <= 0 {
		expires = DefaultURLExpiry
	}

	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
