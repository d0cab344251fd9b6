// Package ffmpeg wraps the external ffmpeg/ffprobe binaries used to
// normalize an arbitrary ingest source into an MPEG-TS elementary stream
// and to discover its codec parameters and timebases.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains the complete ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	Duration       string            `json:"duration"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information as reported by ffprobe.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	Profile       string            `json:"profile"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle, data
	CodecTag      string            `json:"codec_tag_string"`
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	TimeBase      string            `json:"time_base,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Prober runs ffprobe against a source and parses its JSON output.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new stream prober.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{ffprobePath: ffprobePath, timeout: timeout}
}

// Probe probes the source and returns the full ffprobe result, used to
// build the Stream Descriptor cached by the ingest pipeline at startup.
func (p *Prober) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}
	if strings.HasPrefix(source, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, source)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// GetVideoStream returns the "best" (first) video stream, implementing the
// demuxer contract's best-stream selector for video.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// GetAudioStream returns the "best" (first) audio stream, or nil if the
// source carries no audio.
func (r *ProbeResult) GetAudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// ProbeMetadata probes source and returns just its container-level tag
// dictionary, attached to every segment's begin() call by the ingest
// pipeline. It satisfies ingest's metadataProber interface without that
// package importing this one.
func (p *Prober) ProbeMetadata(ctx context.Context, source string) (map[string]string, error) {
	result, err := p.Probe(ctx, source)
	if err != nil {
		return nil, err
	}
	return result.Format.Tags, nil
}

// Framerate parses the stream's average (falling back to real base)
// framerate, expressed by ffprobe as a "num/den" rational string.
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" && s.AvgFrameRate != "0/0" {
		return parseRational(s.AvgFrameRate)
	}
	return parseRational(s.RFrameRate)
}

func parseRational(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(fr, 64)
		return f
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
