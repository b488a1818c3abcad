package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/platform/objectstore"
)

const zipContentType = "application/zip"

// Request names the asset being published.
type Request struct {
	Name        string
	Kind        string
	PlatformTag string
	Package     Package
}

// Published is the outcome of a publish. Reused is set when an object with
// the same content address already existed and no upload happened.
type Published struct {
	Artifact domain.Artifact
	Reused   bool
}

type Publisher interface {
	Publish(ctx context.Context, req Request) (Published, error)
}

func (r Request) artifact(bucket string, now time.Time) (domain.Artifact, error) {
	key, err := ObjectKey(r.Package.SHA256)
	if err != nil {
		return domain.Artifact{}, err
	}
	a := domain.Artifact{
		Name:        strings.TrimSpace(r.Name),
		Kind:        r.Kind,
		Bucket:      bucket,
		ObjectKey:   key,
		SHA256:      r.Package.SHA256,
		SizeBytes:   r.Package.SizeBytes,
		PlatformTag: strings.TrimSpace(r.PlatformTag),
		CreatedAt:   now.UTC(),
	}
	if err := a.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}

// ObjectStorePublisher uploads assets to an S3-compatible bucket.
type ObjectStorePublisher struct {
	bucket string
	store  objectstore.Store
	now    func() time.Time
}

func NewObjectStorePublisher(store objectstore.Store, bucket string) (*ObjectStorePublisher, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectStorePublisher{bucket: bucket, store: store, now: time.Now}, nil
}

func (p *ObjectStorePublisher) Publish(ctx context.Context, req Request) (Published, error) {
	artifact, err := req.artifact(p.bucket, p.now())
	if err != nil {
		return Published{}, err
	}

	info, err := p.store.Stat(ctx, p.bucket, artifact.ObjectKey)
	switch {
	case err == nil && info.Size == artifact.SizeBytes:
		return Published{Artifact: artifact, Reused: true}, nil
	case err == nil:
		return Published{}, fmt.Errorf("object %s exists with size %d, expected %d", artifact.ObjectKey, info.Size, artifact.SizeBytes)
	case !errors.Is(err, objectstore.ErrNotFound):
		return Published{}, fmt.Errorf("stat %s: %w", artifact.ObjectKey, err)
	}

	f, err := os.Open(req.Package.Path)
	if err != nil {
		return Published{}, fmt.Errorf("open package: %w", err)
	}
	defer f.Close()
	if err := p.store.Put(ctx, p.bucket, artifact.ObjectKey, f, artifact.SizeBytes, zipContentType); err != nil {
		return Published{}, fmt.Errorf("put %s: %w", artifact.ObjectKey, err)
	}
	return Published{Artifact: artifact}, nil
}

// StagingPublisher copies assets into a local directory for a later upload
// by the deployment backend. Artifacts it returns carry no bucket.
type StagingPublisher struct {
	dir string
	now func() time.Time
}

func NewStagingPublisher(dir string) (*StagingPublisher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("staging dir is required")
	}
	return &StagingPublisher{dir: dir, now: time.Now}, nil
}

func (p *StagingPublisher) Publish(ctx context.Context, req Request) (Published, error) {
	artifact, err := req.artifact("", p.now())
	if err != nil {
		return Published{}, err
	}
	dst := filepath.Join(p.dir, filepath.FromSlash(artifact.ObjectKey))
	if info, err := os.Stat(dst); err == nil && info.Size() == artifact.SizeBytes {
		return Published{Artifact: artifact, Reused: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Published{}, fmt.Errorf("create staging dir: %w", err)
	}

	// the content address never holds a partial file
	tmp, err := copyToTemp(filepath.Dir(dst), req.Package.Path)
	if err != nil {
		return Published{}, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Published{}, fmt.Errorf("stage asset: %w", err)
	}
	return Published{Artifact: artifact}, nil
}

func copyToTemp(dir, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open package: %w", err)
	}
	defer in.Close()
	out, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create staged asset: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("copy asset: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}
