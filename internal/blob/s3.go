package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3 stores objects in a single bucket. All keys are used verbatim; the
// environment/fileType namespacing happens in the blob service.
type S3 struct {
	svc    *s3.S3
	bucket string
}

func NewS3(bucket string, awsSession *session.Session) *S3 {
	return &S3{
		svc:    s3.New(awsSession),
		bucket: bucket,
	}
}

func (s *S3) Upload(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

func (s *S3) UploadFile(ctx context.Context, key, contentType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("s3 put %q: open staged file: %w", key, err)
	}
	defer f.Close()

	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        f,
	})
	if err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

func (s *S3) UploadFromCopy(ctx context.Context, key, contentType, sourceBucket, sourceKey string) error {
	_, err := s.svc.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(url.PathEscape(sourceBucket + "/" + sourceKey)),
		ContentType:       aws.String(contentType),
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
	})
	if err != nil {
		return fmt.Errorf("s3 copy %q from %s/%s: %w", key, sourceBucket, sourceKey, err)
	}
	return nil
}

func (s *S3) Download(ctx context.Context, key string) (string, []byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, wrapS3NotFound(key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	return aws.StringValue(out.ContentType), data, nil
}

func (s *S3) DownloadToFile(ctx context.Context, key string) (string, string, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", "", wrapS3NotFound(key, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp("", "blob-*")
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", "", fmt.Errorf("s3 get %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", "", err
	}
	return aws.StringValue(out.ContentType), f.Name(), nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

func (s *S3) URL(_ context.Context, key, fileName string, expirationMinutes int) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if fileName != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", fileName))
	}
	if expirationMinutes <= 0 {
		expirationMinutes = 60
	}
	req, _ := s.svc.GetObjectRequest(input)
	return req.Presign(time.Duration(expirationMinutes) * time.Minute)
}

func wrapS3NotFound(key string, err error) error {
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
		return fmt.Errorf("s3 get %q: %w", key, ErrKeyNotFound)
	}
	return fmt.Errorf("s3 get %q: %w", key, err)
}
