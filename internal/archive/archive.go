// Package archive keeps a durable record of every item that reached a
// terminal state.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record summarizes one finished item.
type Record struct {
	ItemID       string        `json:"item_id"`
	Identity     string        `json:"identity"`
	Path         string        `json:"path"`
	Outcome      string        `json:"outcome"`
	Stage        string        `json:"stage"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
	Faces        int           `json:"faces"`
	Candidate    string        `json:"candidate,omitempty"`
	FellBack     bool          `json:"fell_back"`
	Location     string        `json:"location,omitempty"`
	DiscoveredAt time.Time     `json:"discovered_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// Archiver stores Records. Implementations must be safe for concurrent use.
type Archiver interface {
	Record(ctx context.Context, r Record) error
	Close() error
}

// Noop discards every record.
type Noop struct{}

func (Noop) Record(context.Context, Record) error { return nil }
func (Noop) Close() error                         { return nil }

// JSONL appends one JSON object per line to a file.
type JSONL struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// OpenJSONL opens path for appending, creating parent directories.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // G304: path from configuration
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &JSONL{f: f, enc: json.NewEncoder(f)}, nil
}

func (j *JSONL) Record(_ context.Context, r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return os.ErrClosed
	}
	return j.enc.Encode(r)
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Config selects the archive backend.
type Config struct {
	// Kind is none, jsonl or postgres.
	Kind string `mapstructure:"kind" yaml:"kind" json:"kind"`
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn" json:"-"`
}

// Validate checks that the selected backend has its settings.
func (c Config) Validate() error {
	switch c.Kind {
	case "", "none":
		return nil
	case "jsonl":
		if c.Path == "" {
			return fmt.Errorf("archive path is required for jsonl")
		}
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("archive dsn is required for postgres")
		}
		return nil
	}
	return fmt.Errorf("unknown archive kind %q (want none, jsonl or postgres)", c.Kind)
}

// Open returns the configured Archiver.
func Open(ctx context.Context, c Config) (Archiver, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case "jsonl":
		return OpenJSONL(c.Path)
	case "postgres":
		return OpenPostgres(ctx, c.DSN)
	}
	return Noop{}, nil
}
