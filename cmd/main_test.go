package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
	"github.com/urfave/cli/v2"

	"github.com/okian/etude/internal/adapters/http/api"
	"github.com/okian/etude/internal/adapters/http/swagger"
	service "github.com/okian/etude/internal/app"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/synth"
	"github.com/okian/etude/pkg/logger"
	"github.com/okian/etude/pkg/metrics"
)

var melody = []synth.Mark{
	synth.Note(synth.Quarter, "G4"), synth.Note(synth.Quarter, "A4"),
	synth.Note(synth.Quarter, "B4"), synth.Note(synth.Quarter, "C5"),
	synth.Note(synth.Quarter, "D5"), synth.Note(synth.Quarter, "C5"),
	synth.Note(synth.Quarter, "B4"), synth.Note(synth.Quarter, "A4"),
}

func writeFile(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.RunContext(context.Background(), append([]string{"etude", "--engines", "algorithmic", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestCommands(t *testing.T) {
	convey.Convey("Given the etude command line", t, func() {
		app := newApp()
		names := make([]string, 0, len(app.Commands))
		for _, c := range app.Commands {
			names = append(names, c.Name)
		}
		convey.So(names, convey.ShouldResemble, []string{"serve", "score", "practice"})

		sheet := writeFile(t, "melody.png", synth.PNG(synth.DrawSheet([][]synth.Mark{melody})))

		convey.Convey("score prints the recognized score", func() {
			out, err := run("score", sheet)
			convey.So(err, convey.ShouldBeNil)

			var score model.ScoreModel
			convey.So(json.Unmarshal([]byte(out), &score), convey.ShouldBeNil)
			convey.So(score.SourceEngine, convey.ShouldEqual, "algorithmic")
			convey.So(score.Notes, convey.ShouldHaveLength, len(melody))
		})

		convey.Convey("score needs a sheet", func() {
			_, err := run("score")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("score rejects files that are not sheets", func() {
			_, err := run("score", writeFile(t, "notes.txt", []byte("not a sheet")))
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "unsupported sheet")
		})

		convey.Convey("practice prints feedback for a faithful take", func() {
			score := synth.Score([][]synth.Mark{melody}, model.DefaultTempoBPM)
			const rate = 22050
			audio := writeFile(t, "take.wav",
				synth.WAV(synth.Render(synth.Tones(score, model.DefaultTempoBPM, 0.5), rate, 0.5), rate))

			out, err := run("practice", "--sheet", sheet, "--audio", audio, "--instrument", "violin", "--no-dynamics")
			convey.So(err, convey.ShouldBeNil)

			var report model.FeedbackReport
			convey.So(json.Unmarshal([]byte(out), &report), convey.ShouldBeNil)
			convey.So(report.Status, convey.ShouldEqual, model.StatusScored)
			convey.So(report.DynamicsEnabled, convey.ShouldBeFalse)
			convey.So(report.PerDimension.Dynamics, convey.ShouldBeNil)
		})

		convey.Convey("practice rejects unknown instruments", func() {
			_, err := run("practice", "--sheet", sheet, "--audio", sheet, "--instrument", "kazoo")
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "violin")
		})
	})
}

func TestServeConfig(t *testing.T) {
	convey.Convey("Given an invalid worker count in the environment", t, func() {
		t.Setenv("ETUDE_WORKER_COUNT", "0")

		convey.Convey("serve refuses to start", func() {
			_, err := run("serve", "--addr", "127.0.0.1:0", "--db", ":memory:")
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "worker_count")
		})
	})
}

func TestWiring(t *testing.T) {
	convey.Convey("Given a service and its HTTP surface", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()))

		server, err := api.NewServer(svc, api.WithLogger(logger.Nop()))
		convey.So(err, convey.ShouldBeNil)

		mux := http.NewServeMux()
		convey.So(func() {
			server.Register(context.Background(), mux)
			swagger.Register(context.Background(), mux)
		}, convey.ShouldNotPanic)

		convey.Convey("metric updaters tolerate a stopped service", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("a private metrics manager can be built", func() {
			convey.So(metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry())), convey.ShouldNotBeNil)
		})
	})
}
