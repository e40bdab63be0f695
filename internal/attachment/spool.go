package attachment

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// spool buffers one download. Bytes stay in memory up to memLimit and spill
// to a temporary file beyond that, so large attachments never sit in memory.
type spool struct {
	dir      string
	memLimit int64
	mem      bytes.Buffer
	file     *os.File
	size     int64
}

func newSpool(dir string, memLimit int64) *spool {
	return &spool{dir: dir, memLimit: memLimit}
}

// Write implements io.Writer.
func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && int64(s.mem.Len())+int64(len(p)) > s.memLimit {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.mem.Write(p)
	}
	s.size += int64(n)
	return n, err
}

func (s *spool) spill() error {
	f, err := os.CreateTemp(s.dir, "attachment-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	if _, err := f.Write(s.mem.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("spill spool: %w", err)
	}
	s.mem.Reset()
	s.file = f
	return nil
}

// Len reports the buffered size.
func (s *spool) Len() int64 {
	return s.size
}

// Spilled reports whether the spool moved to disk.
func (s *spool) Spilled() bool {
	return s.file != nil
}

// Reader rewinds and returns the buffered content.
func (s *spool) Reader() (io.Reader, error) {
	if s.file == nil {
		return bytes.NewReader(s.mem.Bytes()), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool: %w", err)
	}
	return s.file, nil
}

// Reset discards everything written so far; a retried download starts clean.
func (s *spool) Reset() {
	s.mem.Reset()
	s.size = 0
	s.removeFile()
}

// Close releases the backing file, if any.
func (s *spool) Close() {
	s.Reset()
}

func (s *spool) removeFile() {
	if s.file == nil {
		return
	}
	name := s.file.Name()
	_ = s.file.Close()
	_ = os.Remove(name)
	s.file = nil
}
