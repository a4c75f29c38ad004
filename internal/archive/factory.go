package archive

import (
	"context"
	"fmt"

	"rolectl/internal/config"
	"rolectl/internal/settings"
)

// NewArchiveFromConfig creates an Archive based on the archive config type.
// It returns nil, nil when archiving is disabled.
func NewArchiveFromConfig(cfg config.ArchiveConfig) (settings.Archive, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryArchive(cfg.Name), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem archive requires root to be set")
		}
		a, err := NewFileSystemArchive(cfg.Name, cfg.Root)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := NewS3Archive(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
