package entry

import (
	"fmt"
	"path/filepath"
)

type ReplayHandler func(*Frame) error

// Replay feeds every frame in dir to fn in write order and returns the
// last seq seen. Seqs must increase strictly. A torn frame at the end of
// the last segment is ignored; anywhere else it is an error.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	idx, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	seen := false
	for n, i := range idx {
		path := segmentPath(dir, i)
		_, torn, err := scanSegment(path, func(f *Frame) error {
			if seen && f.Seq <= lastSeq {
				return fmt.Errorf("non-monotonic seq %d after %d", f.Seq, lastSeq)
			}
			lastSeq, seen = f.Seq, true
			return fn(f)
		})
		if err != nil {
			return lastSeq, err
		}
		if torn && n != len(idx)-1 {
			return lastSeq, fmt.Errorf("%w: torn frame in %s", ErrCorrupt, filepath.Base(path))
		}
	}
	return lastSeq, nil
}
