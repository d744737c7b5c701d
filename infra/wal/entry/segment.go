package entry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

type segment struct {
	index  int
	file   *os.File
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.wal", index))
}

func openSegment(dir string, index int) (*segment, error) {
	f, err := os.OpenFile(segmentPath(dir, index), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{index: index, file: f, offset: st.Size()}, nil
}

func (s *segment) append(b []byte, sync bool) error {
	n, err := s.file.Write(b)
	s.offset += int64(n)
	if err != nil {
		return err
	}
	if sync {
		return s.file.Sync()
	}
	return nil
}

func (s *segment) close() error {
	return s.file.Close()
}

// listSegments returns the segment indexes in dir, ascending.
func listSegments(dir string) ([]int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(files))
	for _, path := range files {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(path), "segment-%06d.wal", &idx); err != nil {
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// scanSegment reads every complete frame of a segment. It returns the
// length of the valid prefix and whether the segment ends in a torn frame.
func scanSegment(path string, fn func(*Frame) error) (valid int64, torn bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, false, err
	}

	r := bufio.NewReader(f)
	for {
		frame, n, err := readFrame(r, info.Size()-valid)
		switch {
		case err == io.EOF:
			return valid, false, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return valid, true, nil
		case err != nil:
			return valid, false, fmt.Errorf("%s at offset %d: %w", filepath.Base(path), valid, err)
		}
		if fn != nil {
			if err := fn(frame); err != nil {
				return valid, false, err
			}
		}
		valid += n
	}
}

// maxSeqInSegment returns the highest frame seq of a segment. It is used
// only for snapshot-based truncation.
func maxSeqInSegment(path string) (max uint64, ok bool, err error) {
	_, _, err = scanSegment(path, func(f *Frame) error {
		if !ok || f.Seq > max {
			max, ok = f.Seq, true
		}
		return nil
	})
	return max, ok, err
}
