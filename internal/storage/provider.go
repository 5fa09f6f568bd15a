// Package storage defines the vault file-system abstraction.
package storage

import (
	"time"

	"github.com/starford/laguz/internal/models"
)

// Provider is the interface for vault file operations consumed by the
// sync engine.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to vault root).
	List(dir string) ([]models.DocumentMeta, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Stat returns the modification time of the file at path. A missing
	// file is reported as apperr.ErrNotFound so callers can distinguish
	// deletion from I/O failure.
	Stat(path string) (time.Time, error)
	// Delete removes the file at path (relative to vault root).
	Delete(path string) error
}
