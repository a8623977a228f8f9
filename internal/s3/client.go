// Package s3 is the thin gateway to the object storage backend. It
// exposes exactly the operations the interrogation pipeline needs:
// bounded range reads, existence checks, listing, deletion, and the
// composed write that stitches a new header onto an untouched payload.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kenneth/file-interrogator/internal/config"
)

// minPartSize is the S3 lower bound for all but the last part of a
// multipart upload.
const minPartSize = 5 * 1024 * 1024

// Client is the storage gateway interface consumed by the pipeline.
type Client interface {
	// ObjectExists reports whether bucket/key exists.
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	// ObjectSize returns the total size of bucket/key in bytes.
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)

	// ReadRange fetches the inclusive byte range [start, end] of an object.
	ReadRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error)

	// ComposeObject writes header followed by the source object's
	// payload (bytes payloadOffset..end) to the destination. The
	// payload is streamed or server-side copied, never modified.
	// Either the complete object appears at the destination or none.
	ComposeObject(ctx context.Context, dst ObjectRef, header []byte, src ObjectRef, payloadOffset int64) error

	// ListObjects returns the keys under prefix in a bucket.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)

	// DeleteObject removes bucket/key.
	DeleteObject(ctx context.Context, bucket, key string) error
}

// ObjectRef identifies one object in one bucket.
type ObjectRef struct {
	Bucket string
	Key    string
}

func (r ObjectRef) String() string {
	return r.Bucket + "/" + r.Key
}

// s3Client implements Client using AWS SDK v2.
type s3Client struct {
	client   *s3.Client
	partSize int64
}

// NewClient creates a storage gateway against the configured backend.
func NewClient(cfg *config.BackendConfig) (Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	partSize := cfg.CopyPartSize
	if partSize < minPartSize {
		partSize = minPartSize
	}

	return &s3Client{
		client:   s3.NewFromConfig(awsCfg, s3Options...),
		partSize: partSize,
	}, nil
}

// isNotFound classifies backend errors that mean the object or bucket
// does not exist.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "NoSuchBucket"
	}
	return false
}

// ObjectExists reports whether bucket/key exists.
func (c *s3Client) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// ObjectSize returns the total object size in bytes.
func (c *s3Client) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	result, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to head object %s/%s: %w", bucket, key, err)
	}
	if result.ContentLength == nil {
		return 0, fmt.Errorf("no content length returned for %s/%s", bucket, key)
	}
	return *result.ContentLength, nil
}

// ReadRange fetches the inclusive byte range [start, end].
func (c *s3Client) ReadRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid byte range %d-%d", start, end)
	}

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get range %d-%d of %s/%s: %w", start, end, bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, end-start+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read range of %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// ComposeObject writes the new header plus the source payload to the
// destination. Small payloads go through a single streaming put; large
// ones use a multipart upload whose payload parts are server-side
// copies. A failed multipart upload is aborted so the destination
// never exposes a partial object.
func (c *s3Client) ComposeObject(ctx context.Context, dst ObjectRef, header []byte, src ObjectRef, payloadOffset int64) error {
	totalSize, err := c.ObjectSize(ctx, src.Bucket, src.Key)
	if err != nil {
		return err
	}
	if payloadOffset < 0 || payloadOffset > totalSize {
		return fmt.Errorf("payload offset %d out of bounds for object of %d bytes", payloadOffset, totalSize)
	}
	payloadSize := totalSize - payloadOffset

	if payloadSize <= c.partSize {
		return c.composeSinglePut(ctx, dst, header, src, payloadOffset, totalSize)
	}
	return c.composeMultipart(ctx, dst, header, src, payloadOffset, totalSize)
}

func (c *s3Client) composeSinglePut(ctx context.Context, dst ObjectRef, header []byte, src ObjectRef, payloadOffset, totalSize int64) error {
	composed := append([]byte(nil), header...)
	if payloadOffset < totalSize {
		payload, err := c.ReadRange(ctx, src.Bucket, src.Key, payloadOffset, totalSize-1)
		if err != nil {
			return err
		}
		composed = append(composed, payload...)
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(dst.Bucket),
		Key:    aws.String(dst.Key),
		Body:   bytes.NewReader(composed),
	})
	if err != nil {
		return fmt.Errorf("failed to put composed object %s: %w", dst, err)
	}
	return nil
}

func (c *s3Client) composeMultipart(ctx context.Context, dst ObjectRef, header []byte, src ObjectRef, payloadOffset, totalSize int64) (err error) {
	create, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(dst.Bucket),
		Key:    aws.String(dst.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload for %s: %w", dst, err)
	}
	uploadID := aws.ToString(create.UploadId)

	defer func() {
		if err == nil {
			return
		}
		// Destination must never hold a partial object.
		_, abortErr := c.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(dst.Bucket),
			Key:      aws.String(dst.Key),
			UploadId: aws.String(uploadID),
		})
		if abortErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to abort multipart upload %s: %w", uploadID, abortErr))
		}
	}()

	var parts []types.CompletedPart
	partNumber := int32(1)

	// Part 1 carries the new header plus enough payload to satisfy
	// the minimum part size.
	firstChunkEnd := payloadOffset + c.partSize
	if firstChunkEnd > totalSize {
		firstChunkEnd = totalSize
	}
	firstChunk, err := c.ReadRange(ctx, src.Bucket, src.Key, payloadOffset, firstChunkEnd-1)
	if err != nil {
		return err
	}

	upload, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(dst.Bucket),
		Key:        aws.String(dst.Key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(append(append([]byte(nil), header...), firstChunk...)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload header part for %s: %w", dst, err)
	}
	parts = append(parts, types.CompletedPart{
		PartNumber: aws.Int32(partNumber),
		ETag:       upload.ETag,
	})
	partNumber++

	// Remaining payload is server-side copied in partSize ranges.
	for offset := firstChunkEnd; offset < totalSize; offset += c.partSize {
		end := offset + c.partSize
		if end > totalSize {
			end = totalSize
		}
		copyPart, err := c.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(dst.Bucket),
			Key:             aws.String(dst.Key),
			UploadId:        aws.String(uploadID),
			PartNumber:      aws.Int32(partNumber),
			CopySource:      aws.String(src.Bucket + "/" + src.Key),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", offset, end-1)),
		})
		if err != nil {
			return fmt.Errorf("failed to copy payload part %d for %s: %w", partNumber, dst, err)
		}
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(partNumber),
			ETag:       copyPart.CopyPartResult.ETag,
		})
		partNumber++
	}

	_, err = c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(dst.Bucket),
		Key:             aws.String(dst.Key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload for %s: %w", dst, err)
	}
	return nil
}

// ListObjects returns all keys under prefix, following continuation
// tokens.
func (c *s3Client) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// DeleteObject removes bucket/key.
func (c *s3Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}
