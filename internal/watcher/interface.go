package watcher

import "context"

// Watcher defines the interface for file system monitoring
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
}

// SessionHandler processes one newly dropped session source file.
type SessionHandler func(ctx context.Context, filePath string) error
