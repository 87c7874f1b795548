package blob

import (
	"context"
	"fmt"

	infrafs "worktally/internal/infra/blob/fs"
	inframemory "worktally/internal/infra/blob/memory"
	infras3 "worktally/internal/infra/blob/s3"
)

// S3Config selects a bucket on an S3-compatible service.
type S3Config = infras3.Config

// Config picks a driver and carries its settings. Only the fields of the
// chosen driver are read.
type Config struct {
	Driver Driver
	Root   string
	S3     S3Config
}

// Open returns the store cfg names. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem stores blobs under root.
func NewFilesystem(root string) (Store, error) { return infrafs.New(root) }

// NewMemory returns a process-local store.
func NewMemory() Store { return inframemory.New() }

// NewS3 connects to the bucket in cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infras3.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store backed by an in-process fake.
func NewMockS3ForTests() Store { return infras3.NewMockForTests() }
