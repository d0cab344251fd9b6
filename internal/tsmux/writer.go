// Package tsmux implements the Segment Writer (component A): a
// single-use handle that writes exactly one MPEG-TS segment file, copying
// packets verbatim and rescaling timestamps into the output timebase.
//
// Packets are never frame-inspected: tsmux treats PES payloads as opaque
// bytes, matching the system's Non-goal of no transcoding, re-encoding, or
// frame-level inspection. It builds on github.com/asticode/go-astits, which
// operates at the same PES/packet granularity, rather than
// github.com/bluenviron/mediacommon's access-unit-oriented muxer.
package tsmux

import (
	"context"
	"fmt"
	"os"

	"github.com/asticode/go-astits"
	"github.com/segmentpipe/segmentpipe/internal/rational"
)

// OutputTimebase is the MPEG-TS 90kHz clock that every output PTS/DTS is
// expressed in, shared by every stream descriptor.
var OutputTimebase = rational.New(1, 90000)

// CodecType identifies an elementary stream's codec well enough to pick an
// MPEG-TS stream type; it carries no frame-parsing behavior.
type CodecType int

// Supported codec types. Unknown streams are dropped upstream by the
// ingest pipeline's stream_index_map before they ever reach the Writer.
const (
	CodecUnknown CodecType = iota
	CodecH264
	CodecH265
	CodecAAC
	CodecMP3
)

const (
	videoPID uint16 = 0x100
	audioPID uint16 = 0x101
)

// StreamDescriptor is captured once per pipeline run and replayed into
// every segment's begin() call.
type StreamDescriptor struct {
	VideoCodec CodecType
	AudioCodec CodecType // CodecUnknown if the source carries no audio
	Metadata   map[string]string
}

// HasAudio reports whether the descriptor includes an audio stream.
func (d StreamDescriptor) HasAudio() bool {
	return d.AudioCodec != CodecUnknown
}

// Writer is a single-use MPEG-TS segment writer. Writer must not be reused
// after End.
type Writer struct {
	path    string
	file    *os.File
	muxer   *astits.Muxer
	desc    StreamDescriptor
	ended   bool
	begun   bool
	firstPTS *int64
	lastPTS  int64
}

// Open creates the output container at path. Any failure here is
// Fatal-init: the pipeline cannot proceed without a writable segment file.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating segment file %s: %w", path, err)
	}
	return &Writer{path: path, file: f}, nil
}

// Begin declares the output streams, writes the PAT/PMT header, and must be
// called exactly once before any Write call.
func (w *Writer) Begin(desc StreamDescriptor) error {
	if w.begun {
		return fmt.Errorf("tsmux: Begin called twice on %s", w.path)
	}
	w.desc = desc
	w.muxer = astits.NewMuxer(context.Background(), w.file)

	if err := w.muxer.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    streamTypeFor(desc.VideoCodec, true),
	}); err != nil {
		return fmt.Errorf("adding video stream: %w", err)
	}
	w.muxer.SetPCRPID(videoPID)

	if desc.HasAudio() {
		if err := w.muxer.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    streamTypeFor(desc.AudioCodec, false),
		}); err != nil {
			return fmt.Errorf("adding audio stream: %w", err)
		}
	}

	if _, err := w.muxer.WriteTables(); err != nil {
		return fmt.Errorf("writing PAT/PMT header: %w", err)
	}

	w.begun = true
	return nil
}

func streamTypeFor(codec CodecType, video bool) astits.StreamType {
	switch codec {
	case CodecH264:
		return astits.StreamTypeH264Video
	case CodecH265:
		return astits.StreamTypeH265Video
	case CodecAAC:
		return astits.StreamTypeAACAudio
	case CodecMP3:
		return astits.StreamTypeMPEG1Audio
	default:
		if video {
			return astits.StreamTypeH264Video
		}
		return astits.StreamTypeAACAudio
	}
}

// VideoTimebase returns the output timebase for video PTS/DTS.
func (w *Writer) VideoTimebase() rational.Rational { return OutputTimebase }

// AudioTimebase returns the output timebase for audio PTS.
func (w *Writer) AudioTimebase() rational.Rational { return OutputTimebase }

// WriteVideo rescales pts/dts from srcTimebase into the output timebase and
// writes the packet verbatim to the video elementary stream (PID 0x100,
// output stream index 0).
func (w *Writer) WriteVideo(pts, dts int64, srcTimebase rational.Rational, payload []byte, keyframe bool) error {
	if !w.begun {
		return fmt.Errorf("tsmux: WriteVideo before Begin")
	}
	outPTS := rational.Rescale(pts, srcTimebase, OutputTimebase)
	outDTS := rational.Rescale(dts, srcTimebase, OutputTimebase)

	w.trackPTS(outPTS)

	return w.writePES(videoPID, astits.PESOptionalHeader{
		MarkerBits:      0x2,
		PTSDTSIndicator: astits.PTSDTSIndicatorBothPresent,
		PTS:             &astits.ClockReference{Base: outPTS},
		DTS:             &astits.ClockReference{Base: outDTS},
	}, payload, keyframe)
}

// WriteAudio rescales pts from srcTimebase into the output timebase and
// writes the packet verbatim to the audio elementary stream (PID 0x101,
// output stream index 1). Calling WriteAudio when the descriptor carries no
// audio stream is a programmer error.
func (w *Writer) WriteAudio(pts int64, srcTimebase rational.Rational, payload []byte) error {
	if !w.begun {
		return fmt.Errorf("tsmux: WriteAudio before Begin")
	}
	if !w.desc.HasAudio() {
		return fmt.Errorf("tsmux: WriteAudio called but segment has no audio stream")
	}
	outPTS := rational.Rescale(pts, srcTimebase, OutputTimebase)

	return w.writePES(audioPID, astits.PESOptionalHeader{
		MarkerBits:      0x2,
		PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
		PTS:             &astits.ClockReference{Base: outPTS},
	}, payload, false)
}

func (w *Writer) trackPTS(outPTS int64) {
	if w.firstPTS == nil {
		pts := outPTS
		w.firstPTS = &pts
	}
	w.lastPTS = outPTS
}

func (w *Writer) writePES(pid uint16, header astits.PESOptionalHeader, payload []byte, _ bool) error {
	data := &astits.MuxerData{
		PID: pid,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &header,
				StreamID:       pesStreamID(pid),
			},
			Data: payload,
		},
	}
	if _, err := w.muxer.WriteData(data); err != nil {
		return fmt.Errorf("writing packet to pid 0x%x: %w", pid, err)
	}
	return nil
}

// MPEG-TS PES stream ID prefixes (ISO/IEC 13818-1 Table 2-22).
const (
	pesStreamIDVideo uint8 = 0xe0
	pesStreamIDAudio uint8 = 0xc0
)

func pesStreamID(pid uint16) uint8 {
	if pid == videoPID {
		return pesStreamIDVideo
	}
	return pesStreamIDAudio
}

// Result is returned by End: the finalized path and the segment's measured
// PTS span in the output timebase, used to compute the recorded duration.
type Result struct {
	Path          string
	FirstPTS      int64
	LastPTS       int64
	HadVideo      bool
	MeasuredSpan  rational.Rational
}

// End writes the container trailer (a no-op flush for go-astits, whose
// tables are written eagerly in Begin) and closes the file. The Writer must
// not be reused afterward.
func (w *Writer) End() (Result, error) {
	if w.ended {
		return Result{}, fmt.Errorf("tsmux: End called twice on %s", w.path)
	}
	w.ended = true

	if err := w.file.Close(); err != nil {
		return Result{}, fmt.Errorf("closing segment file %s: %w", w.path, err)
	}

	res := Result{Path: w.path}
	if w.firstPTS != nil {
		res.HadVideo = true
		res.FirstPTS = *w.firstPTS
		res.LastPTS = w.lastPTS
		res.MeasuredSpan = rational.New(w.lastPTS-*w.firstPTS, int64(OutputTimebase.Den))
	}
	return res, nil
}

// Path returns the segment's local filesystem path.
func (w *Writer) Path() string { return w.path }
