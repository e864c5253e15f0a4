package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// ObjectStorage keeps the log as a single object in MinIO or any
// S3-compatible store.
//
// Object stores cannot append, so the whole log is buffered in memory and
// written back as one object on Flush and Replace. PutObject over the same
// key is atomic on the server side, which is all Replace needs. This mirrors
// how browser-persisted backends work: a platform store without seekable
// writes behind the same append-only port.
type ObjectStorage struct {
	client *minio.Client
	bucket string
	key    string
	data   []byte
	dirty  bool
	closed bool
}

// OpenObject opens (or creates) an object-backed storage at bucket/key.
func OpenObject(ctx context.Context, client *minio.Client, bucket, key string) (*ObjectStorage, error) {
	s := &ObjectStorage{
		client: client,
		bucket: bucket,
		key:    key,
	}

	_, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return s, nil
		}
		return nil, fmt.Errorf("failed to stat log object: %w", err)
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get log object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read log object: %w", err)
	}
	s.data = data
	return s, nil
}

// Name returns the object key.
func (s *ObjectStorage) Name() string { return s.key }

// Len returns the current length in bytes.
func (s *ObjectStorage) Len() int64 { return int64(len(s.data)) }

// Read returns n bytes starting at off.
func (s *ObjectStorage) Read(_ context.Context, off int64, n int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if off < 0 || off+int64(n) > int64(len(s.data)) {
		return nil, rangeErr(off, n, int64(len(s.data)))
	}
	out := make([]byte, n)
	copy(out, s.data[off:])
	return out, nil
}

// Append writes p at the end and returns the offset it was written at.
func (s *ObjectStorage) Append(_ context.Context, p []byte) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	off := int64(len(s.data))
	s.data = append(s.data, p...)
	s.dirty = true
	return off, nil
}

// Truncate discards all bytes at and after size.
func (s *ObjectStorage) Truncate(_ context.Context, size int64) error {
	if s.closed {
		return ErrClosed
	}
	if size < int64(len(s.data)) {
		s.data = s.data[:size]
		s.dirty = true
	}
	return nil
}

// Flush uploads the buffered log as one object.
func (s *ObjectStorage) Flush(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if !s.dirty {
		return nil
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key,
		bytes.NewReader(s.data), int64(len(s.data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to put log object: %w", err)
	}
	s.dirty = false
	return nil
}

// Replace substitutes the entire content and uploads it.
func (s *ObjectStorage) Replace(ctx context.Context, data []byte) error {
	if s.closed {
		return ErrClosed
	}
	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.dirty = true
	return s.Flush(ctx)
}

// Close uploads any unflushed bytes and releases the storage.
func (s *ObjectStorage) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush(context.Background())
	s.closed = true
	return err
}
