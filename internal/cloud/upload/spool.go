package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cryptdrive/cdrive/internal/constants"
)

// spool holds the ciphertext of a simple upload until it is PUT.
// Small payloads stay in memory; larger ones go to a temp file.
type spool interface {
	io.Writer
	// Reader returns a reader positioned at the start of the spooled data
	Reader() (io.Reader, error)
	// Close releases the spool; temp files are removed
	Close() error
}

func newSpool(size int64, tempDir string) (spool, error) {
	if size <= constants.SpoolMemoryThreshold {
		buf := &memorySpool{}
		buf.Grow(int(size))
		return buf, nil
	}

	f, err := os.CreateTemp(tempDir, "cdrive-upload-*.enc")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return &fileSpool{f: f}, nil
}

type memorySpool struct {
	bytes.Buffer
}

func (m *memorySpool) Reader() (io.Reader, error) {
	return bytes.NewReader(m.Bytes()), nil
}

func (m *memorySpool) Close() error {
	m.Reset()
	return nil
}

type fileSpool struct {
	f *os.File
}

func (s *fileSpool) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fileSpool) Reader() (io.Reader, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return s.f, nil
}

func (s *fileSpool) Close() error {
	name := s.f.Name()
	closeErr := s.f.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}

// contextReader fails reads once ctx is done so that long local copies stop promptly.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
