package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/archive-probe/internal/status"
)

// Package storage keeps the last probe result per target.

// Store remembers the most recent result of each target.
type Store interface {
	Close() error
	LastResult(targetID string) (status.Result, bool, error)
	SaveResult(res status.Result) error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

const (
	defaultResultTTL       = 7 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return NewNoopStore(), nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = defaultResultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

// NewNoopStore returns a Store that never remembers results.
func NewNoopStore() Store { return noopStore{} }

type noopStore struct{}

func (noopStore) Close() error                                   { return nil }
func (noopStore) LastResult(string) (status.Result, bool, error) { return status.Result{}, false, nil }
func (noopStore) SaveResult(status.Result) error                 { return nil }
