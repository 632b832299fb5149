package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/etude/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default values", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.JobQueueSize, convey.ShouldEqual, 256)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.OMREngines, convey.ShouldResemble, []string{"audiveris", "oemer", "algorithmic"})
			convey.So(cfg.RenderScale, convey.ShouldEqual, 3.0)
			convey.So(cfg.TempoBandPct, convey.ShouldEqual, 5)
			convey.So(cfg.RecommendLow, convey.ShouldEqual, 70)
			convey.So(cfg.RecommendHigh, convey.ShouldEqual, 90)
			convey.So(cfg.Materiality, convey.ShouldEqual, 3)
			convey.So(cfg.DynamicsEnabled, convey.ShouldBeTrue)
		})

		convey.Convey("Then the defaults should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then duration helpers should convert milliseconds", func() {
			convey.So(cfg.OMRTimeout(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.OMRProbeTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.AudioTimeout(), convey.ShouldEqual, 2*time.Minute)
			convey.So(cfg.MinRecording(), convey.ShouldEqual, time.Second)
			convey.So(cfg.IdempotencyTTL(), convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.MaxUploadBytes(), convey.ShouldEqual, int64(50<<20))
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a config with broken values", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When the tempo band exceeds the zero point", func() {
			cfg.TempoBandPct = 40
			err := cfg.Validate()

			convey.Convey("Then validation should fail with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "tempo_zero_pct")
			})
		})

		convey.Convey("When an unknown engine is listed", func() {
			cfg.OMREngines = []string{"audiveris", "tesseract"}
			err := cfg.Validate()

			convey.Convey("Then validation should name it", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "tesseract")
			})
		})

		convey.Convey("When thresholds are inverted", func() {
			cfg.RecommendLow = 95
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When the render scale is below one", func() {
			cfg.RenderScale = 0.5
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})
	})
}
