package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	tmpSuffix    = ".tmp"
	mergeMarker  = ".merge"
	filePermLog  = 0600
	filePermDirs = 0750
)

// FileStorage is the file-backed Storage implementation.
//
// The log lives in a single file. Replace is implemented as write-to-temp,
// fsync and rename, guarded by a marker file: if the marker survives a crash,
// the swap did not finish cleanly and the next Open fails with
// ErrMergeIncomplete instead of serving a log of unknown state.
type FileStorage struct {
	name string
	path string
	file *os.File
	size int64
}

// OpenFile opens (or creates) a file-backed storage at path.
//
// The file is locked for exclusive use by this process where the platform
// supports it, so two stores can never share one log.
func OpenFile(path string) (*FileStorage, error) {
	if _, err := os.Stat(path + mergeMarker); err == nil {
		return nil, fmt.Errorf("%w: leftover marker %s", ErrMergeIncomplete, path+mergeMarker)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, filePermDirs); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePermLog) //nolint:gosec // G304: path is caller-provided
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &FileStorage{
		name: filepath.Base(path),
		path: path,
		file: file,
		size: st.Size(),
	}, nil
}

// Name returns the base name of the log file.
func (f *FileStorage) Name() string { return f.name }

// Len returns the current length in bytes.
func (f *FileStorage) Len() int64 { return f.size }

// Read returns n bytes starting at off.
func (f *FileStorage) Read(_ context.Context, off int64, n int) ([]byte, error) {
	if f.file == nil {
		return nil, ErrClosed
	}
	if off < 0 || off+int64(n) > f.size {
		return nil, rangeErr(off, n, f.size)
	}
	buf := make([]byte, n)
	if _, err := f.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return buf, nil
}

// Append writes p at the end and returns the offset it was written at.
func (f *FileStorage) Append(_ context.Context, p []byte) (int64, error) {
	if f.file == nil {
		return 0, ErrClosed
	}
	off := f.size
	n, err := f.file.WriteAt(p, off)
	f.size += int64(n)
	if err != nil {
		return 0, fmt.Errorf("failed to append to log file: %w", err)
	}
	return off, nil
}

// Truncate discards all bytes at and after size.
func (f *FileStorage) Truncate(_ context.Context, size int64) error {
	if f.file == nil {
		return ErrClosed
	}
	if size >= f.size {
		return nil
	}
	if err := f.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate log file: %w", err)
	}
	f.size = size
	return nil
}

// Flush syncs the file to disk.
func (f *FileStorage) Flush(_ context.Context) error {
	if f.file == nil {
		return ErrClosed
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return nil
}

// Replace atomically substitutes the entire content with data.
//
// Sequence: write temp file, fsync, create marker, rename over the log,
// remove marker. A crash between marker creation and removal is detected by
// the next OpenFile as ErrMergeIncomplete.
func (f *FileStorage) Replace(_ context.Context, data []byte) error {
	if f.file == nil {
		return ErrClosed
	}

	tmpPath := f.path + tmpSuffix
	if err := writeFileSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	markerPath := f.path + mergeMarker
	if err := writeFileSynced(markerPath, nil); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := syncDir(filepath.Dir(f.path)); err != nil {
		_ = os.Remove(tmpPath)
		_ = os.Remove(markerPath)
		return err
	}

	// The old handle is released before the rename so the swap also works on
	// platforms that refuse to replace an open file.
	unlockFile(f.file)
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	f.file = nil

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to swap log file: %w", err)
	}
	if err := syncDir(filepath.Dir(f.path)); err != nil {
		return err
	}

	file, err := os.OpenFile(f.path, os.O_RDWR, filePermLog) //nolint:gosec // G304: path is caller-provided
	if err != nil {
		return fmt.Errorf("failed to reopen swapped log file: %w", err)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return err
	}
	f.file = file
	f.size = int64(len(data))

	if err := os.Remove(markerPath); err != nil {
		return fmt.Errorf("failed to remove merge marker: %w", err)
	}
	return syncDir(filepath.Dir(f.path))
}

// Close releases the lock and closes the file.
func (f *FileStorage) Close() error {
	if f.file == nil {
		return nil
	}
	unlockFile(f.file)
	err := f.file.Close()
	f.file = nil
	return err
}

func writeFileSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermLog) //nolint:gosec // G304: derived from log path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if len(data) > 0 {
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304: derived from log path
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
