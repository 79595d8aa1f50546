package download

import (
	"bytes"
	"fmt"
	"os"

	"github.com/oshokin/corekeeper/internal/domain/core"
)

// spool accumulates a body in memory until it outgrows the threshold, then moves it to a temp file.
type spool struct {
	dir       string
	threshold int64
	buf       bytes.Buffer
	file      *os.File
	size      int64
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && s.size+int64(len(p)) > s.threshold {
		file, err := os.CreateTemp(s.dir, "corekeeper-download-*")
		if err != nil {
			return 0, fmt.Errorf("create spool file: %w", err)
		}

		s.file = file

		if _, err = file.Write(s.buf.Bytes()); err != nil {
			return 0, fmt.Errorf("write spool file: %w", err)
		}

		s.buf = bytes.Buffer{}
	}

	var (
		n   int
		err error
	)

	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}

	s.size += int64(n)

	return n, err
}

// artifact finalizes the spool. The spool must not be used afterwards.
func (s *spool) artifact(mirror int) (*core.Artifact, error) {
	if s.file == nil {
		return &core.Artifact{Data: s.buf.Bytes(), Size: s.size, Mirror: mirror}, nil
	}

	path := s.file.Name()
	if err := s.file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close spool file: %w", err)
	}

	s.file = nil

	return &core.Artifact{Path: path, Size: s.size, Mirror: mirror}, nil
}

// discard drops whatever was accumulated.
func (s *spool) discard() {
	if s.file != nil {
		path := s.file.Name()
		_ = s.file.Close()
		_ = os.Remove(path)
		s.file = nil
	}

	s.buf = bytes.Buffer{}
	s.size = 0
}
