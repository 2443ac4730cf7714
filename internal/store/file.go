package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// FileSink keeps the mirror as one JSON document on disk. Every Put rewrites the
// document through a temp file and rename, so readers never see a partial write.
type FileSink struct {
	path string
	log  *zap.Logger

	mu    sync.Mutex
	state map[string]jsoniter.RawMessage
}

// NewFileSink loads any existing document at path. A leading ~ is expanded.
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand storage path %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &FileSink{
		path:  expanded,
		log:   logger.Named("store.file"),
		state: make(map[string]jsoniter.RawMessage),
	}

	data, err := os.ReadFile(expanded)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.state); err != nil {
			// A corrupt mirror is discarded; it is never the source of truth.
			s.log.Warn("Discarding unreadable mirror file", zap.String("path", expanded), zap.Error(err))
			s.state = make(map[string]jsoniter.RawMessage)
		}
	}
	return s, nil
}

// Path returns the expanded file location.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Put(ctx context.Context, entries map[string]interface{}) error {
	encoded := make(map[string]jsoniter.RawMessage, len(entries))
	for k, v := range entries {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", k, err)
		}
		encoded[k] = b
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]jsoniter.RawMessage, len(s.state)+len(encoded))
	for k, v := range s.state {
		next[k] = v
	}
	for k, v := range encoded {
		next[k] = v
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *FileSink) write(doc map[string]jsoniter.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mirror: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".mirror-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace mirror: %w", err)
	}
	return nil
}

func (s *FileSink) Get(_ context.Context, key string, out interface{}) (bool, error) {
	s.mu.Lock()
	raw, ok := s.state[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (s *FileSink) Close() error { return nil }

// ReadFile decodes a mirror document without opening a sink. Used by the status command.
func ReadFile(path string) (map[string]jsoniter.RawMessage, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]jsoniter.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", expanded, err)
	}
	return doc, nil
}
