package ingest

import (
	"time"

	"github.com/okian/etude/pkg/logger"
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithFFmpeg overrides the ffmpeg executable.
func WithFFmpeg(bin string) Option {
	return func(d *Decoder) {
		if bin != "" {
			d.bin = bin
		}
	}
}

// WithSampleRate sets the rate ffmpeg resamples to.
func WithSampleRate(rate int) Option {
	return func(d *Decoder) {
		if rate > 0 {
			d.sampleRate = rate
		}
	}
}

// WithTimeout bounds one ffmpeg run.
func WithTimeout(t time.Duration) Option {
	return func(d *Decoder) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithLogger sets the decoder logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}
