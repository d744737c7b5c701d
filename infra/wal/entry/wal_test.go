package entry

import (
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, dir string, segSize int64) *WAL {
	t.Helper()
	w, err := Open(Config{Dir: dir, SegmentSize: segSize, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func replayAll(t *testing.T, dir string) []*Frame {
	t.Helper()
	var out []*Frame
	_, err := Replay(dir, func(f *Frame) error {
		out = append(out, f)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestAppendReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, w.Append(NewFrame(FrameBatch, i, []byte{byte(i)})))
	}

	frames := replayAll(t, dir)
	require.Len(t, frames, 5)
	for i, f := range frames {
		require.Equal(t, uint64(i), f.Seq)
		require.Equal(t, FrameBatch, f.Type)
		require.Equal(t, []byte{byte(i)}, f.Data)
	}
}

func TestRotateAndResume(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1)
	require.NoError(t, w.Append(NewFrame(FrameBatch, 0, []byte("a"))))
	require.NoError(t, w.Append(NewFrame(FrameBatch, 1, []byte("b"))))
	require.NoError(t, w.Close())

	idx, err := listSegments(dir)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, idx)

	// Reopening continues in the newest segment instead of segment 0.
	w2 := openTest(t, dir, 1<<20)
	require.Equal(t, 2, w2.current.index)
	require.NoError(t, w2.Append(NewFrame(FrameBatch, 2, []byte("c"))))

	frames := replayAll(t, dir)
	require.Len(t, frames, 3)
	require.Equal(t, "c", string(frames[2].Data))
}

func TestTornTailIsCutOnOpen(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	require.NoError(t, w.Append(NewFrame(FrameBatch, 0, []byte("whole"))))
	require.NoError(t, w.Close())

	// Half a frame, as a crash mid-write leaves it.
	partial := NewFrame(FrameBatch, 1, []byte("torn")).appendTo(nil)
	f, err := os.OpenFile(segmentPath(dir, 0), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(partial[:len(partial)/2])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Len(t, replayAll(t, dir), 1)

	w2 := openTest(t, dir, 1<<20)
	require.NoError(t, w2.Append(NewFrame(FrameBatch, 1, []byte("after"))))
	frames := replayAll(t, dir)
	require.Len(t, frames, 2)
	require.Equal(t, "after", string(frames[1].Data))
}

func TestOversizedLengthIsTreatedAsTorn(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	require.NoError(t, w.Append(NewFrame(FrameBatch, 0, []byte("whole"))))
	require.NoError(t, w.Close())

	// A header whose length field claims ~4 GiB that the file does not hold.
	header := NewFrame(FrameBatch, 1, nil).appendTo(nil)[:headerSize]
	binary.BigEndian.PutUint32(header[17:21], math.MaxUint32)
	f, err := os.OpenFile(segmentPath(dir, 0), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(header)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Len(t, replayAll(t, dir), 1)

	w2 := openTest(t, dir, 1<<20)
	require.NoError(t, w2.Append(NewFrame(FrameBatch, 1, []byte("after"))))
	frames := replayAll(t, dir)
	require.Len(t, frames, 2)
	require.Equal(t, "after", string(frames[1].Data))
}

func TestCorruptFrameFailsReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	require.NoError(t, w.Append(NewFrame(FrameBatch, 0, []byte("payload"))))
	require.NoError(t, w.Close())

	path := segmentPath(dir, 0)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	b[headerSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = Replay(dir, func(*Frame) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestNonMonotonicSeqFailsReplay(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1<<20)
	require.NoError(t, w.Append(NewFrame(FrameBatch, 4, nil)))
	require.NoError(t, w.Append(NewFrame(FrameBatch, 4, nil)))

	_, err := Replay(dir, func(*Frame) error { return nil })
	require.Error(t, err)
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()
	w := openTest(t, dir, 1)
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, w.Append(NewFrame(FrameBatch, i, []byte("x"))))
	}
	// Segments 0..3 hold one frame each, segment 4 is current and empty.
	require.NoError(t, w.TruncateBefore(1))

	idx, err := listSegments(dir)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 4}, idx)

	frames := replayAll(t, dir)
	require.Len(t, frames, 2)
	require.Equal(t, uint64(2), frames[0].Seq)
}

func TestAppendAfterClose(t *testing.T) {
	w := openTest(t, t.TempDir(), 1<<20)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Append(NewFrame(FrameBatch, 0, nil)), ErrClosed)
}
