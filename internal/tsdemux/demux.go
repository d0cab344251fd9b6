// Package tsdemux wraps github.com/asticode/go-astits's PES-level reader to
// drive the ingest pipeline's demux loop. It discovers the PAT/PMT,
// classifies each PID as video/audio/other, and yields packets with their
// presentation/decode timestamps unmodified — the pipeline copies payloads
// verbatim; tsdemux never inspects frame contents.
package tsdemux

import (
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
	"github.com/segmentpipe/segmentpipe/internal/rational"
	"github.com/segmentpipe/segmentpipe/internal/tsmux"
)

// Kind classifies a demuxed packet's elementary stream.
type Kind int

// Packet kinds, matching the stream routing the ingest pipeline expects.
const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
)

// Timebase is the MPEG-TS clock every PTS/DTS value below is expressed in.
var Timebase = rational.New(1, 90000)

// Packet is one demuxed PES payload.
type Packet struct {
	Kind       Kind
	PTS        int64
	DTS        int64
	HasDTS     bool
	Data       []byte
	RandomAccess bool
}

// Demuxer reads an MPEG-TS byte stream (the ffmpeg remuxer's stdout) and
// yields classified packets.
type Demuxer struct {
	astitsDemuxer *astits.Demuxer
	videoPID      uint16
	audioPID      uint16
	videoCodec    tsmux.CodecType
	audioCodec    tsmux.CodecType
	pidsKnown     bool
}

// New creates a Demuxer over r. Stream discovery happens lazily on the
// first calls to Next, as the PAT/PMT arrive.
func New(r io.Reader) *Demuxer {
	return &Demuxer{
		astitsDemuxer: astits.NewDemuxer(context.Background(), r),
	}
}

// Next returns the next classified packet, or io.EOF when the source is
// exhausted (the pipeline calls roller.end() on EOF with no error).
func (d *Demuxer) Next() (Packet, error) {
	for {
		data, err := d.astitsDemuxer.NextData()
		if err != nil {
			if err == io.EOF || err == astits.ErrNoMorePackets {
				return Packet{}, io.EOF
			}
			return Packet{}, fmt.Errorf("reading ts packet: %w", err)
		}

		if data.PMT != nil {
			d.learnPIDs(data.PMT)
			continue
		}
		if data.PES == nil {
			continue
		}

		kind := d.classify(data.PID)
		pkt := Packet{Kind: kind, Data: data.PES.Data}
		if hdr := data.PES.Header; hdr != nil && hdr.OptionalHeader != nil {
			opt := hdr.OptionalHeader
			if opt.PTS != nil {
				pkt.PTS = opt.PTS.Base
			}
			if opt.DTS != nil {
				pkt.DTS = opt.DTS.Base
				pkt.HasDTS = true
			} else {
				pkt.DTS = pkt.PTS
			}
		}
		return pkt, nil
	}
}

func (d *Demuxer) learnPIDs(pmt *astits.PMTData) {
	if d.pidsKnown {
		return
	}
	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case astits.StreamTypeH264Video:
			d.videoPID, d.videoCodec = es.ElementaryPID, tsmux.CodecH264
		case astits.StreamTypeH265Video:
			d.videoPID, d.videoCodec = es.ElementaryPID, tsmux.CodecH265
		case astits.StreamTypeAACAudio:
			d.audioPID, d.audioCodec = es.ElementaryPID, tsmux.CodecAAC
		case astits.StreamTypeMPEG1Audio:
			d.audioPID, d.audioCodec = es.ElementaryPID, tsmux.CodecMP3
		}
	}
	d.pidsKnown = true
}

func (d *Demuxer) classify(pid uint16) Kind {
	switch {
	case d.pidsKnown && pid == d.videoPID:
		return KindVideo
	case d.pidsKnown && d.audioPID != 0 && pid == d.audioPID:
		return KindAudio
	default:
		return KindUnknown
	}
}

// StreamDescriptor returns the discovered codec types, once the PMT has
// been observed. HasAudio mirrors tsmux.StreamDescriptor.HasAudio.
func (d *Demuxer) StreamDescriptor(metadata map[string]string) tsmux.StreamDescriptor {
	return tsmux.StreamDescriptor{
		VideoCodec: d.videoCodec,
		AudioCodec: d.audioCodec,
		Metadata:   metadata,
	}
}

// Ready reports whether the PMT has been observed and PIDs are classified.
func (d *Demuxer) Ready() bool {
	return d.pidsKnown
}
