package reconcile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// WriteOutcome describes what a publish did to a document file.
type WriteOutcome string

const (
	OutcomeWritten   WriteOutcome = "written"
	OutcomeUnchanged WriteOutcome = "unchanged"
	OutcomeRemoved   WriteOutcome = "removed"
	OutcomeAbsent    WriteOutcome = "absent"
)

// Changed reports whether the proxy needs to pick up the outcome.
func (o WriteOutcome) Changed() bool {
	return o == OutcomeWritten || o == OutcomeRemoved
}

const (
	defaultLockTimeout = 30 * time.Second
	lockRetryDelay     = 50 * time.Millisecond
	documentMode       = 0o644
)

// Writer publishes documents into the proxy's dynamic directory. Writers
// of the same file are serialized in-process by a mutex and across
// processes by an advisory lock file; different files are independent.
type Writer struct {
	dir         string
	lockTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// beforeRename runs after the temporary file is complete. Tests use it
	// to simulate a crash before publication.
	beforeRename func(tmp string) error
}

// NewWriter creates a writer for dir. The directory is created on first
// write when missing.
func NewWriter(dir string) *Writer {
	return &Writer{
		dir:         dir,
		lockTimeout: defaultLockTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Dir returns the dynamic directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the full path of a document file.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (w *Writer) fileMutex(name string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.locks[name]
	if !ok {
		m = &sync.Mutex{}
		w.locks[name] = m
	}
	return m
}

// lock acquires both the in-process and the advisory lock of name.
func (w *Writer) lock(ctx context.Context, name string) (func(), error) {
	m := w.fileMutex(name)
	m.Lock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		m.Unlock()
		return nil, NewWriteError(w.dir, "mkdir", err)
	}

	// The lock file is hidden and has no document extension so the proxy
	// ignores it.
	fl := flock.New(filepath.Join(w.dir, "."+name+".lock"))
	lockCtx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		m.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, NewWriteError(w.Path(name), "lock", err)
	}

	return func() {
		_ = fl.Unlock()
		m.Unlock()
	}, nil
}

// Write publishes data as name. Content equal to the current file is not
// rewritten. The file is replaced by rename, so readers see either the old
// or the new document.
func (w *Writer) Write(ctx context.Context, name string, data []byte) (WriteOutcome, error) {
	unlock, err := w.lock(ctx, name)
	if err != nil {
		return "", err
	}
	defer unlock()

	path := w.Path(name)
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, data) {
		return OutcomeUnchanged, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", NewWriteError(path, "read", err)
	}

	tmp, err := os.CreateTemp(w.dir, "."+name+".tmp-*")
	if err != nil {
		return "", NewWriteError(path, "create", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", NewWriteError(path, "write", err)
	}
	if err := tmp.Chmod(documentMode); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", NewWriteError(path, "chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", NewWriteError(path, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", NewWriteError(path, "close", err)
	}

	if w.beforeRename != nil {
		if err := w.beforeRename(tmpPath); err != nil {
			cleanup()
			return "", NewWriteError(path, "rename", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return "", NewWriteError(path, "rename", err)
	}
	syncDir(w.dir)
	return OutcomeWritten, nil
}

// Remove deletes the document name if it exists.
func (w *Writer) Remove(ctx context.Context, name string) (WriteOutcome, error) {
	unlock, err := w.lock(ctx, name)
	if err != nil {
		return "", err
	}
	defer unlock()

	path := w.Path(name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return OutcomeAbsent, nil
		}
		return "", NewWriteError(path, "remove", err)
	}
	syncDir(w.dir)
	return OutcomeRemoved, nil
}

// Read returns the current content of name.
func (w *Writer) Read(name string) ([]byte, error) {
	return os.ReadFile(w.Path(name))
}

// List returns the names of the managed documents in the directory,
// sorted. A missing directory yields an empty list.
func (w *Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "routes-") || !strings.HasSuffix(name, ".yml") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// syncDir flushes the directory entry after a rename. Failures are
// ignored; some filesystems do not support it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
