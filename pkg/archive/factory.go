package archive

import (
	"context"
	"fmt"
)

// Kind selects the archive backend.
type Kind string

const (
	KindNone Kind = ""
	KindFile Kind = "file"
	KindS3   Kind = "s3"
	KindGCS  Kind = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Kind     Kind
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// New builds the configured store. KindNone returns a nil Store and no error;
// callers treat that as archiving disabled.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case KindNone:
		return nil, nil
	case KindFile:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/audit"
		}
		return NewFileStore(dir)
	case KindS3:
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case KindGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported audit archive type: %s", cfg.Kind)
	}
}
