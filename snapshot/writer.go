package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"seqlog/domain/replog"
)

type Writer struct {
	Dir string
}

// Write replaces the snapshot in Dir. The file is written aside and renamed
// so a crash never leaves a partial snapshot behind.
func (w *Writer) Write(head uint64, records []replog.Record) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(w.Dir, fileName+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	s := Snapshot{
		Head:    head,
		Created: time.Now(),
		Records: records,
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		_ = f.Close()
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.Dir, fileName))
}
