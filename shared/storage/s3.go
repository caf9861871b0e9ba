package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/buildgrid/platform/shared/apperrors"
)

// S3Backend stores files in one S3 bucket. The tenant namespace maps onto
// object keys, so the same path rules apply as for the local backend.
type S3Backend struct {
	client *s3.S3
	bucket string
}

// NewS3Backend creates an S3-backed store for the given bucket.
func NewS3Backend(region, bucket string) (*S3Backend, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &S3Backend{client: s3.New(sess), bucket: bucket}, nil
}

// Write uploads content under the object key.
func (b *S3Backend) Write(relPath string, content []byte) error {
	_, err := b.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(relPath),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

// Read downloads an object, mapping missing keys to ErrNotFound.
func (b *S3Backend) Read(relPath string) ([]byte, error) {
	out, err := b.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete removes one object. S3 deletes are idempotent, so a missing key
// does not error here; the bucket layer treats that as success.
func (b *S3Backend) Delete(relPath string) error {
	_, err := b.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

// List returns all object keys under the prefix.
func (b *S3Backend) List(prefix string) ([]string, error) {
	var out []string
	err := b.client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix + "/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3 list failed: %w", err)
	}
	return out, nil
}
