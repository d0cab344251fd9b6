package tsmux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentpipe/segmentpipe/internal/rational"
	"github.com/stretchr/testify/require"
)

func TestWriterLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000000001.ts")

	w, err := Open(path)
	require.NoError(t, err)

	desc := StreamDescriptor{VideoCodec: CodecH264, AudioCodec: CodecAAC}
	require.True(t, desc.HasAudio())
	require.NoError(t, w.Begin(desc))

	srcTimebase := rational.New(1, 90000)
	require.NoError(t, w.WriteVideo(0, 0, srcTimebase, []byte{0x00, 0x00, 0x00, 0x01}, true))
	require.NoError(t, w.WriteAudio(0, srcTimebase, []byte{0xff, 0xf1}))
	require.NoError(t, w.WriteVideo(90000, 90000, srcTimebase, []byte{0x00, 0x00, 0x00, 0x01}, false))

	result, err := w.End()
	require.NoError(t, err)
	require.Equal(t, path, result.Path)
	require.True(t, result.HadVideo)
	require.Equal(t, int64(0), result.FirstPTS)
	require.Equal(t, int64(90000), result.LastPTS)
	require.InDelta(t, 1.0, result.MeasuredSpan.Seconds(), 0.001)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestWriterRejectsDoubleBegin(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "000000001.ts"))
	require.NoError(t, err)
	require.NoError(t, w.Begin(StreamDescriptor{VideoCodec: CodecH264}))
	require.Error(t, w.Begin(StreamDescriptor{VideoCodec: CodecH264}))
}

func TestWriterRejectsAudioWithoutStream(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "000000001.ts"))
	require.NoError(t, err)
	require.NoError(t, w.Begin(StreamDescriptor{VideoCodec: CodecH264}))
	require.Error(t, w.WriteAudio(0, rational.New(1, 90000), []byte{0x01}))
}
