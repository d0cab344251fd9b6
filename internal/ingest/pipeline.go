// Package ingest implements the ingest pipeline: it opens the source
// through the ffmpeg remuxer, drives the MPEG-TS demux loop, dispatches
// packets to the segment roller, and — since the roll decision is owned by
// the pipeline rather than hidden inside the roller — records each
// finalized segment in the index store and enqueues it with the uploader
// itself.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentpipe/segmentpipe/internal/config"
	"github.com/segmentpipe/segmentpipe/internal/index"
	"github.com/segmentpipe/segmentpipe/internal/rational"
	"github.com/segmentpipe/segmentpipe/internal/roller"
	"github.com/segmentpipe/segmentpipe/internal/tsdemux"
	"github.com/segmentpipe/segmentpipe/internal/tsmux"
	"github.com/segmentpipe/segmentpipe/internal/uploader"
)

// Clock abstracts time.Now so tests can control wall-clock start times
// without sleeping.
type Clock func() time.Time

// sourceStarter matches ffmpeg.Remuxer.Start's signature. Tests substitute
// a fake that serves a precomputed MPEG-TS stream instead of shelling out
// to a real ffmpeg binary.
type sourceStarter interface {
	Start(ctx context.Context, source string) (io.ReadCloser, error)
}

// metadataProber matches ffmpeg.Prober.ProbeMetadata's signature. It is
// optional: a Pipeline with no prober attached simply begins every segment
// with a nil metadata dictionary.
type metadataProber interface {
	ProbeMetadata(ctx context.Context, source string) (map[string]string, error)
}

// Pipeline wires the remuxer, demuxer, roller, index store, and uploader
// into a single run loop.
type Pipeline struct {
	source      string
	rollSeconds time.Duration

	remuxer  sourceStarter
	prober   metadataProber
	roller   *roller.Roller
	store    *index.Store
	uploader *uploader.Uploader
	logger   *slog.Logger
	now      Clock

	// Counters track per-kind packet totals for the current run.
	VideoCount   int
	AudioCount   int
	UnknownCount int
}

// New builds a Pipeline from already-constructed collaborators. cfg
// supplies the source URL and roll interval.
func New(cfg config.PipelineConfig, remuxer sourceStarter, rl *roller.Roller, store *index.Store, up *uploader.Uploader, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:      cfg.Source,
		rollSeconds: cfg.RollSeconds,
		remuxer:     remuxer,
		roller:      rl,
		store:       store,
		uploader:    up,
		logger:      logger,
		now:         time.Now,
	}
}

// WithProber attaches a metadata prober, run once at startup to populate the
// stream descriptor's metadata dictionary. Returns p so callers can chain
// it onto New.
func (p *Pipeline) WithProber(prober metadataProber) *Pipeline {
	p.prober = prober
	return p
}

// Run opens the source, discovers streams, and drives the demux loop to
// completion. It returns nil on clean source EOF and a non-nil error for
// any fatal-init or fatal-write condition.
func (p *Pipeline) Run(ctx context.Context) error {
	var metadata map[string]string
	if p.prober != nil {
		m, err := p.prober.ProbeMetadata(ctx, p.source)
		if err != nil {
			p.logger.Warn("probing source metadata failed, continuing without it",
				slog.String("error", err.Error()))
		} else {
			metadata = m
		}
	}

	session, err := p.remuxer.Start(ctx, p.source)
	if err != nil {
		return fmt.Errorf("starting remuxer: %w", err)
	}
	defer session.Close()

	demuxer := tsdemux.New(session)

	first, err := demuxer.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.logger.Warn("source produced no packets")
			return nil
		}
		return fmt.Errorf("reading first packet: %w", err)
	}
	if !demuxer.Ready() {
		return fmt.Errorf("demuxer did not resolve stream PIDs before first packet")
	}

	desc := demuxer.StreamDescriptor(metadata)

	segmentID, err := p.roller.Begin(desc)
	if err != nil {
		return fmt.Errorf("beginning first segment: %w", err)
	}
	p.logger.Info("segment begun", slog.Int("id", segmentID))

	chunkStart := p.now()
	var startPTS int64
	startPTSSet := false

	writePacket := func(pkt tsdemux.Packet) error {
		switch pkt.Kind {
		case tsdemux.KindVideo:
			if !startPTSSet {
				startPTS = pkt.PTS
				startPTSSet = true
			}
			if roller.ShouldRoll(startPTS, pkt.PTS, tsdemux.Timebase, p.rollSeconds) {
				if err := p.rollSegment(ctx, chunkStart); err != nil {
					return err
				}
				chunkStart = p.now()
				startPTS = pkt.PTS
			}
			if err := p.roller.Current().WriteVideo(pkt.PTS, pkt.DTS, tsdemux.Timebase, pkt.Data, pkt.RandomAccess); err != nil {
				return fmt.Errorf("writing video packet: %w", err)
			}
			p.VideoCount++
		case tsdemux.KindAudio:
			if !desc.HasAudio() {
				p.UnknownCount++
				return nil
			}
			if err := p.roller.Current().WriteAudio(pkt.PTS, tsdemux.Timebase, pkt.Data); err != nil {
				return fmt.Errorf("writing audio packet: %w", err)
			}
			p.AudioCount++
		default:
			p.UnknownCount++
		}
		return nil
	}

	if err := writePacket(first); err != nil {
		return err
	}

	for {
		pkt, err := demuxer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading packet: %w", err)
		}
		if err := writePacket(pkt); err != nil {
			return err
		}
	}

	result, err := p.roller.End()
	if err != nil {
		return fmt.Errorf("finalizing trailing segment: %w", err)
	}
	// The trailing partial segment at EOF is closed but deliberately left
	// out of the index and upload queue: it never reached a full roll
	// interval, so there's no complete segment to publish.
	p.logger.Info("source exhausted, trailing segment closed without indexing",
		slog.String("path", result.Path),
	)
	return nil
}

// rollSegment finalizes the current segment, records it in the index
// store, and enqueues it with the uploader, then opens the replacement
// segment.
func (p *Pipeline) rollSegment(ctx context.Context, chunkStart time.Time) error {
	result, newID, err := p.roller.Roll()
	if err != nil {
		return fmt.Errorf("rolling segment: %w", err)
	}

	duration := measuredDuration(result, p.rollSeconds)

	if err := p.store.Append(ctx, segmentFileID(result.Path), chunkStart, duration); err != nil {
		return fmt.Errorf("indexing finalized segment: %w", err)
	}
	if err := p.uploader.Enqueue(ctx, result.Path); err != nil {
		return fmt.Errorf("enqueuing segment for upload: %w", err)
	}

	p.logger.Info("segment rolled",
		slog.String("path", result.Path),
		slog.Int("next_id", newID),
		slog.Float64("duration", duration),
	)
	return nil
}

// measuredDuration records the measured PTS span to the nearest
// millisecond, falling back to the configured roll interval only when the
// segment closed with zero video packets.
func measuredDuration(result tsmux.Result, rollSeconds time.Duration) float64 {
	if !result.HadVideo {
		return rollSeconds.Seconds()
	}
	millis := rational.Rescale(result.LastPTS-result.FirstPTS, tsmux.OutputTimebase, rational.New(1, 1000))
	return float64(millis) / 1000.0
}

func segmentFileID(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			base = path[i+1:]
			break
		}
	}
	return base
}
