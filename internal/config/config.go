// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Only cmd and internal/app read a Config; the analysis packages receive
//     explicit options built from it.
//   - External errors are wrapped with this package's sentinel errors.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

var knownEngines = map[string]bool{"audiveris": true, "oemer": true, "algorithmic": true}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the sqlite database file. ":memory:" keeps everything in process.
	DBPath string `koanf:"db_path"`

	// WorkerCount sets the number of practice-analysis workers.
	WorkerCount int `koanf:"worker_count"`

	// JobQueueSize bounds the in-memory practice job queue.
	JobQueueSize int `koanf:"queue_size"`

	// IdempotencyTTLMS is how long an async submission's Idempotency-Key is remembered.
	IdempotencyTTLMS int `koanf:"idempotency_ttl_ms"`

	// MaxUploadMB caps multipart upload bodies.
	MaxUploadMB int `koanf:"max_upload_mb"`

	// OMREngines lists recognition engines in priority order.
	OMREngines []string `koanf:"omr_engines"`

	// External tool locations.
	AudiverisBin string `koanf:"audiveris_bin"`
	OemerBin     string `koanf:"oemer_bin"`
	PdftoppmBin  string `koanf:"pdftoppm_bin"`
	FFmpegBin    string `koanf:"ffmpeg_bin"`

	// OMRTimeoutMS bounds one recognition run; OMRProbeTimeoutMS bounds one availability probe.
	OMRTimeoutMS      int `koanf:"omr_timeout_ms"`
	OMRProbeTimeoutMS int `koanf:"omr_probe_timeout_ms"`

	// RenderScale is the resolution normalization factor applied before recognition.
	RenderScale float64 `koanf:"render_scale"`

	// AudioTimeoutMS bounds one recording analysis.
	AudioTimeoutMS int `koanf:"audio_timeout_ms"`

	// SampleRate is the rate uploads are decoded to.
	SampleRate int `koanf:"sample_rate"`

	// MinRecordingMS rejects recordings shorter than this.
	MinRecordingMS int `koanf:"min_recording_ms"`

	// Comparison thresholds.
	OnsetToleranceBeats     float64 `koanf:"onset_tolerance_beats"`
	RhythmMaxDeviationBeats float64 `koanf:"rhythm_max_deviation_beats"`
	TempoBandPct            float64 `koanf:"tempo_band_pct"`
	TempoZeroPct            float64 `koanf:"tempo_zero_pct"`
	TempoFloor              float64 `koanf:"tempo_floor"`

	// Feedback thresholds.
	RecommendLow  int `koanf:"recommend_low"`
	RecommendHigh int `koanf:"recommend_high"`

	// Materiality is the minimum per-dimension delta reported by history comparison.
	Materiality int `koanf:"materiality"`

	// DynamicsEnabled is the default for sessions that do not say otherwise.
	DynamicsEnabled bool `koanf:"dynamics_enabled"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		DBPath:                  "etude.db",
		WorkerCount:             runtime.NumCPU(),
		JobQueueSize:            256,
		IdempotencyTTLMS:        86_400_000,
		MaxUploadMB:             50,
		OMREngines:              []string{"audiveris", "oemer", "algorithmic"},
		AudiverisBin:            "audiveris",
		OemerBin:                "oemer",
		PdftoppmBin:             "pdftoppm",
		FFmpegBin:               "ffmpeg",
		OMRTimeoutMS:            300_000,
		OMRProbeTimeoutMS:       5_000,
		RenderScale:             3.0,
		AudioTimeoutMS:          120_000,
		SampleRate:              22050,
		MinRecordingMS:          1_000,
		OnsetToleranceBeats:     0.5,
		RhythmMaxDeviationBeats: 0.5,
		TempoBandPct:            5,
		TempoZeroPct:            30,
		TempoFloor:              40,
		RecommendLow:            70,
		RecommendHigh:           90,
		Materiality:             3,
		DynamicsEnabled:         true,
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Addr) == "" {
		problems = append(problems, "addr must not be empty")
	}
	if c.WorkerCount < 1 {
		problems = append(problems, "worker_count must be positive")
	}
	if c.JobQueueSize < 1 {
		problems = append(problems, "queue_size must be positive")
	}
	if len(c.OMREngines) == 0 {
		problems = append(problems, "omr_engines must name at least one engine")
	}
	for _, name := range c.OMREngines {
		if !knownEngines[strings.ToLower(strings.TrimSpace(name))] {
			problems = append(problems, fmt.Sprintf("%v: %q", ErrUnknownEngine, name))
		}
	}
	if c.RenderScale < 1 {
		problems = append(problems, "render_scale must be >= 1")
	}
	if c.IdempotencyTTLMS <= 0 {
		problems = append(problems, "idempotency_ttl_ms must be positive")
	}
	if c.OMRTimeoutMS <= 0 || c.AudioTimeoutMS <= 0 || c.OMRProbeTimeoutMS <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if c.SampleRate < 8000 {
		problems = append(problems, "sample_rate must be >= 8000")
	}
	if c.OnsetToleranceBeats <= 0 || c.RhythmMaxDeviationBeats <= 0 {
		problems = append(problems, "beat tolerances must be positive")
	}
	if c.TempoBandPct < 0 || c.TempoZeroPct <= c.TempoBandPct {
		problems = append(problems, "tempo_zero_pct must exceed tempo_band_pct")
	}
	if c.TempoFloor < 0 || c.TempoFloor > 100 {
		problems = append(problems, "tempo_floor must be within 0..100")
	}
	if c.RecommendLow > c.RecommendHigh {
		problems = append(problems, "recommend_low must not exceed recommend_high")
	}
	if c.Materiality < 0 {
		problems = append(problems, "materiality must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IdempotencyTTL returns how long idempotency keys are remembered.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMS) * time.Millisecond
}

// OMRTimeout returns the recognition timeout.
func (c *Config) OMRTimeout() time.Duration {
	return time.Duration(c.OMRTimeoutMS) * time.Millisecond
}

// OMRProbeTimeout returns the availability probe timeout.
func (c *Config) OMRProbeTimeout() time.Duration {
	return time.Duration(c.OMRProbeTimeoutMS) * time.Millisecond
}

// AudioTimeout returns the recording analysis timeout.
func (c *Config) AudioTimeout() time.Duration {
	return time.Duration(c.AudioTimeoutMS) * time.Millisecond
}

// MinRecording returns the shortest accepted recording.
func (c *Config) MinRecording() time.Duration {
	return time.Duration(c.MinRecordingMS) * time.Millisecond
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
