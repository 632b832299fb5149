package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/etude/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.OMRTimeoutMS, convey.ShouldEqual, 300_000)
				convey.So(cfg.OnsetToleranceBeats, convey.ShouldEqual, 0.5)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ETUDE_ADDR", ":8080")
			_ = os.Setenv("ETUDE_QUEUE_SIZE", "64")
			_ = os.Setenv("ETUDE_WORKER_COUNT", "3")
			_ = os.Setenv("ETUDE_TEMPO_BAND_PCT", "7.5")
			_ = os.Setenv("ETUDE_DYNAMICS_ENABLED", "false")
			_ = os.Setenv("ETUDE_OMR_ENGINES", "oemer,algorithmic")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.TempoBandPct, convey.ShouldEqual, 7.5)
				convey.So(cfg.DynamicsEnabled, convey.ShouldBeFalse)
				convey.So(cfg.OMREngines, convey.ShouldResemble, []string{"oemer", "algorithmic"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
queue_size: 32
worker_count: 2
db_path: ":memory:"
omr_engines:
  - algorithmic
recommend_low: 65
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("ETUDE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 32)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.DBPath, convey.ShouldEqual, ":memory:")
				convey.So(cfg.OMREngines, convey.ShouldResemble, []string{"algorithmic"})
				convey.So(cfg.RecommendLow, convey.ShouldEqual, 65)
			})

			convey.Convey("And missing fields should keep their defaults", func() {
				convey.So(cfg.RecommendHigh, convey.ShouldEqual, 90)
				convey.So(cfg.RenderScale, convey.ShouldEqual, 3.0)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile("addr: \":9090\"\nworker_count: 2\nqueue_size: 32\n")
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("ETUDE_CONFIG", tmpFile)
			_ = os.Setenv("ETUDE_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("ETUDE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("ETUDE_CONFIG", "/non/existent/etude.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("ETUDE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("ETUDE_WORKER_COUNT", "many")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	envVars := []string{
		"ETUDE_CONFIG",
		"ETUDE_ADDR",
		"ETUDE_QUEUE_SIZE",
		"ETUDE_WORKER_COUNT",
		"ETUDE_TEMPO_BAND_PCT",
		"ETUDE_DYNAMICS_ENABLED",
		"ETUDE_OMR_ENGINES",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "etude-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
