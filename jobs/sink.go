package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// Sink publishes a finished output file and returns where it can be
// found.
type Sink interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// LocalSink leaves outputs where the job wrote them.
type LocalSink struct{}

func (LocalSink) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	return localPath, nil
}

// GCSSink also uploads outputs to gs://<bucket>/<prefix>/<job id>/<file>.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.newclient: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	object := path.Join(s.prefix, jobID, filepath.Base(localPath))
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "image/tiff"
	if _, err = io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	if err = w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
