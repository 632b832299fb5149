package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/pkg/logger"
)

// Decoder defaults.
const (
	DefaultSampleRate    = 22050
	DefaultDecodeTimeout = 2 * time.Minute
	processWaitDelay     = 2 * time.Second
)

// Decoder turns an uploaded recording into PCM samples. WAV files are read
// in process; everything else is piped through ffmpeg as mono f32le at the
// configured sample rate.
type Decoder struct {
	bin        string
	sampleRate int
	timeout    time.Duration
	logger     logger.Logger
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		bin:        "ffmpeg",
		sampleRate: DefaultSampleRate,
		timeout:    DefaultDecodeTimeout,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("ingest")
	return d
}

// SampleRate returns the rate ffmpeg output is resampled to.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// Decode returns the recording held in data. Errors are *performance.Failure
// values so callers can report them the same way as analysis failures.
func (d *Decoder) Decode(ctx context.Context, data []byte) (performance.Recording, error) {
	kind, err := AudioType(data)
	if err != nil {
		return performance.Recording{}, err
	}
	if kind == "audio/wav" {
		rec, err := DecodeWAV(data)
		if err == nil {
			return rec, nil
		}
		d.logger.Debug(ctx, "wav not readable in process, trying ffmpeg", logger.Error(err))
	}
	return d.ffmpeg(ctx, kind, data)
}

func (d *Decoder) ffmpeg(ctx context.Context, kind string, data []byte) (performance.Recording, error) {
	bin, err := exec.LookPath(d.bin)
	if err != nil {
		return performance.Recording{}, &performance.Failure{
			Kind: performance.UnsupportedFormat,
			Err:  fmt.Errorf("%w: %s needed for %s", ErrDecoderMissing, d.bin, kind),
		}
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, bin,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "pipe:0",
		"-f", "f32le", "-ac", "1", "-ar", strconv.Itoa(d.sampleRate),
		"pipe:1")
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay

	start := time.Now()
	err = cmd.Run()
	if cerr := cctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return performance.Recording{}, &performance.Failure{
				Kind: performance.AnalysisTimeout,
				Err:  fmt.Errorf("decoding exceeded %s: %w", d.timeout, cerr),
			}
		}
		return performance.Recording{}, cerr
	}
	if err != nil {
		return performance.Recording{}, &performance.Failure{
			Kind: performance.UnsupportedFormat,
			Err:  fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	samples := floats32(stdout.Bytes())
	d.logger.Debug(ctx, "decoded recording",
		logger.String("type", kind),
		logger.Int("samples", len(samples)),
		logger.Duration("took", time.Since(start)))
	return performance.Recording{Samples: samples, SampleRate: d.sampleRate, Channels: 1}, nil
}

func floats32(b []byte) []float64 {
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return out
}
