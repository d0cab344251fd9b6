package roller

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentpipe/segmentpipe/internal/rational"
	"github.com/segmentpipe/segmentpipe/internal/tsmux"
	"github.com/stretchr/testify/require"
)

func TestRestartContinuation(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 42; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FormatID(i)), []byte{}, 0o644))
	}

	r, err := New(dir)
	require.NoError(t, err)

	id, err := r.Begin(tsmux.StreamDescriptor{VideoCodec: tsmux.CodecH264})
	require.NoError(t, err)
	require.Equal(t, 43, id)
	require.Equal(t, "000000043.ts", filepath.Base(r.Path(id)))
	_, err = r.End()
	require.NoError(t, err)
}

func TestIDMonotonicity(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	desc := tsmux.StreamDescriptor{VideoCodec: tsmux.CodecH264}
	firstID, err := r.Begin(desc)
	require.NoError(t, err)
	require.Equal(t, 1, firstID)

	var ids []int
	ids = append(ids, firstID)
	for i := 0; i < 3; i++ {
		_, newID, err := r.Roll()
		require.NoError(t, err)
		ids = append(ids, newID)
	}
	_, err = r.End()
	require.NoError(t, err)

	for i := 1; i < len(ids); i++ {
		require.Equal(t, ids[i-1]+1, ids[i])
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 4)
}

// TestRollBoundary reproduces testable property 3: roll_seconds=10, a
// synthetic 30fps video source (pts step 3000, timebase 1/90000) fills the
// first segment with exactly 300 packets (PTS 0..897000) before the
// triggering packet at PTS 900000 starts the next segment.
func TestRollBoundary(t *testing.T) {
	timebase := rational.New(1, 90000)
	const rollSeconds = 10 * time.Second
	const step = 3000

	startPTS := int64(0)
	count := 0
	for pts := int64(0); ; pts += step {
		if ShouldRoll(startPTS, pts, timebase, rollSeconds) {
			require.Equal(t, int64(900000), pts)
			break
		}
		count++
	}
	require.Equal(t, 300, count)
}
