package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mcphub/pkg/logging"

	"github.com/google/uuid"
)

// ErrNotExist is returned by Read and ReadJSON when the document has
// never been written. First-run callers should treat this as an empty
// state, not a failure.
var ErrNotExist = errors.New("document does not exist")

// WriteError wraps any failure on the write path. It is always surfaced
// to the caller, never swallowed: a failed atomic write means the new
// state was not persisted even though the old file is intact.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("atomic write of %s failed during %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Store persists documents with atomic replace semantics. The zero
// value is usable; New exists for symmetry with the other components.
type Store struct{}

// New creates a new Store.
func New() *Store {
	return &Store{}
}

// Write atomically replaces the document at path with data. On any
// failure the original file is left untouched and the temporary file
// is removed.
func (s *Store) Write(path string, data []byte) error {
	return s.writeStream(path, bytes.NewReader(data), false)
}

// WriteJSON marshals v as JSON and atomically replaces the document at
// path. The temporary file is verified to hold well-formed JSON before
// the rename.
func (s *Store) WriteJSON(path string, v interface{}) error {
	// Marshal up front so an unserializable value never reaches the
	// filesystem at all.
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &WriteError{Path: path, Op: "marshal", Err: err}
	}
	return s.writeStream(path, bytes.NewReader(data), true)
}

// Read returns the document at path. A missing file yields ErrNotExist.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// ReadJSON reads the document at path and unmarshals it into v.
// A missing file yields ErrNotExist.
func (s *Store) ReadJSON(path string, v interface{}) error {
	data, err := s.Read(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// writeStream is the shared write path: temp file in the same directory
// (same filesystem, required for an atomic rename), streamed copy,
// fsync, optional JSON verification, rename.
func (s *Store) writeStream(path string, r io.Reader, verifyJSON bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &WriteError{Path: path, Op: "mkdir", Err: err}
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return &WriteError{Path: path, Op: "create temp", Err: err}
	}

	fail := func(op string, cause error) error {
		tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.Warn("Store", "Failed to clean up temp file %s: %v", tmpPath, rmErr)
		}
		return &WriteError{Path: path, Op: op, Err: cause}
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		return fail("write", err)
	}
	if n == 0 {
		return fail("verify", errors.New("refusing to persist empty document"))
	}

	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}

	if verifyJSON {
		if err := verifyJSONFile(tmpPath); err != nil {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				logging.Warn("Store", "Failed to clean up temp file %s: %v", tmpPath, rmErr)
			}
			return &WriteError{Path: path, Op: "verify", Err: err}
		}
	}

	// The rename is the only step that may be interrupted safely: the
	// target either still shows the old content or the fully-renamed
	// new content.
	if err := os.Rename(tmpPath, path); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.Warn("Store", "Failed to clean up temp file %s: %v", tmpPath, rmErr)
		}
		return &WriteError{Path: path, Op: "rename", Err: err}
	}

	logging.Debug("Store", "Wrote %d bytes to %s", n, path)
	return nil
}

// verifyJSONFile checks that the file parses as a single JSON document,
// streaming through a decoder to bound memory use for large documents.
func verifyJSONFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("temp file is not well-formed JSON: %w", err)
	}
	return nil
}
