package storage

import (
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// Package storage persists per-source identifier sets and on-disk artifacts.

// Backend persists the identifier set of each source.
type Backend interface {
	Close() error
	LoadIDs(src sources.Source) ([]string, error)
	SaveIDs(src sources.Source, ids []string) error
}

// NewBackend creates the configured identifier backend. path is only used by bbolt.
func NewBackend(typ, path string) (Backend, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "json":
		return jsonBackend{}, nil
	case "", "none", "disabled":
		return noopBackend{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

type noopBackend struct{}

func (noopBackend) Close() error                             { return nil }
func (noopBackend) LoadIDs(sources.Source) ([]string, error) { return nil, nil }
func (noopBackend) SaveIDs(sources.Source, []string) error   { return nil }
