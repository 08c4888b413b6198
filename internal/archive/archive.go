// Package archive uploads evaluation artifacts to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/signalnine/riskarena/internal/result"
)

// Archiver stores a copy of a completed artifact. Failures are logged by the
// caller and never change the run outcome.
type Archiver interface {
	Archive(ctx context.Context, a *result.Artifact) (string, error)
}

type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
}

func NewS3(bucket, region, prefix string) (*S3Archiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// Key is <prefix>/<agent>/<run-id>.json.
func (s *S3Archiver) Key(a *result.Artifact) string {
	agent := a.Metadata.AgentID
	if agent == "" {
		agent = "unknown"
	}
	return path.Join(s.prefix, agent, a.Metadata.RunID+".json")
}

func (s *S3Archiver) Archive(ctx context.Context, a *result.Artifact) (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling artifact: %w", err)
	}
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(a)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading artifact: %w", err)
	}
	return out.Location, nil
}
