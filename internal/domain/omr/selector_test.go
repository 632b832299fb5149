package omr_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/omr"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeEngine struct {
	name  string
	avail func(ctx context.Context) error
	calls atomic.Int32
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Available(ctx context.Context) error {
	f.calls.Add(1)
	if f.avail == nil {
		return nil
	}
	return f.avail(ctx)
}

func (f *fakeEngine) Analyze(context.Context, omr.Source) (model.ScoreModel, error) {
	return model.ScoreModel{SourceEngine: f.name}, nil
}

func notInstalled(context.Context) error { return omr.ErrToolNotFound }

func TestSelector(t *testing.T) {
	Convey("Given a priority list of engines", t, func() {
		ctx := context.Background()
		a := &fakeEngine{name: "a"}
		b := &fakeEngine{name: "b"}
		c := &fakeEngine{name: "c"}

		Convey("The first available engine is bound", func() {
			sel := omr.NewSelector([]omr.Engine{a, b, c})
			e, err := sel.Select(ctx)
			So(err, ShouldBeNil)
			So(e.Name(), ShouldEqual, "a")
			So(sel.Engine(), ShouldEqual, e)
			So(b.calls.Load(), ShouldEqual, 0)
		})

		Convey("Unavailable engines fall through to the next", func() {
			a.avail = notInstalled
			sel := omr.NewSelector([]omr.Engine{a, b, c})
			e, err := sel.Select(ctx)
			So(err, ShouldBeNil)
			So(e.Name(), ShouldEqual, "b")

			probes := sel.Probes()
			So(probes, ShouldHaveLength, 2)
			So(probes[0].Available, ShouldBeFalse)
			So(probes[0].Error, ShouldContainSubstring, "tool not found")
			So(probes[1].Available, ShouldBeTrue)
		})

		Convey("With both tool engines unavailable the fallback is bound", func() {
			a.avail = notInstalled
			b.avail = notInstalled
			e, err := omr.NewSelector([]omr.Engine{a, b, c}).Select(ctx)
			So(err, ShouldBeNil)
			So(e.Name(), ShouldEqual, "c")
		})

		Convey("A panicking probe counts as unavailable", func() {
			a.avail = func(context.Context) error { panic("broken runtime") }
			e, err := omr.NewSelector([]omr.Engine{a, b, c}).Select(ctx)
			So(err, ShouldBeNil)
			So(e.Name(), ShouldEqual, "b")
		})

		Convey("A hanging probe is cut off by the probe timeout", func() {
			a.avail = func(ctx context.Context) error {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return nil
			}
			sel := omr.NewSelector([]omr.Engine{a, b, c}, omr.WithProbeTimeout(20*time.Millisecond))
			e, err := sel.Select(ctx)
			So(err, ShouldBeNil)
			So(e.Name(), ShouldEqual, "b")
			So(sel.Probes()[0].Error, ShouldContainSubstring, "deadline")
		})

		Convey("Probing happens once per selector", func() {
			sel := omr.NewSelector([]omr.Engine{a, b, c})
			for i := 0; i < 3; i++ {
				_, err := sel.Select(ctx)
				So(err, ShouldBeNil)
			}
			So(a.calls.Load(), ShouldEqual, 1)
		})

		Convey("Engine and Probes can be read while a Select is running", func() {
			release := make(chan struct{})
			started := make(chan struct{})
			a.avail = func(context.Context) error {
				close(started)
				<-release
				return notInstalled(ctx)
			}
			sel := omr.NewSelector([]omr.Engine{a, b})
			done := make(chan omr.Engine, 1)
			go func() {
				e, _ := sel.Select(ctx)
				done <- e
			}()

			<-started
			So(sel.Engine(), ShouldBeNil)
			So(sel.Probes(), ShouldBeEmpty)
			close(release)

			e := <-done
			So(e.Name(), ShouldEqual, "b")
			So(sel.Engine(), ShouldEqual, e)
			So(sel.Probes(), ShouldHaveLength, 2)
		})

		Convey("A failing fallback is a configuration error", func() {
			a.avail = notInstalled
			b.avail = notInstalled
			c.avail = func(context.Context) error { return errors.New("corrupt install") }
			e, err := omr.NewSelector([]omr.Engine{a, b, c}).Select(ctx)
			So(e, ShouldBeNil)
			So(errors.Is(err, omr.ErrNoEngine), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "corrupt install")
		})

		Convey("An empty list cannot select", func() {
			_, err := omr.NewSelector(nil).Select(ctx)
			So(errors.Is(err, omr.ErrNoEngine), ShouldBeTrue)
		})
	})
}

func TestBuildEngines(t *testing.T) {
	Convey("BuildEngines keeps the priority order", t, func() {
		engines, err := omr.BuildEngines([]string{"oemer", "Audiveris"}, omr.EngineSettings{Timeout: time.Second})
		So(err, ShouldBeNil)
		names := make([]string, 0, len(engines))
		for _, e := range engines {
			names = append(names, e.Name())
		}
		So(names, ShouldResemble, []string{"oemer", "audiveris", "algorithmic"})

		Convey("and the algorithmic engine is always available", func() {
			So(engines[2].Available(context.Background()), ShouldBeNil)
		})

		Convey("unknown names are rejected", func() {
			_, err := omr.BuildEngines([]string{"magic"}, omr.EngineSettings{})
			So(errors.Is(err, omr.ErrUnknownEngine), ShouldBeTrue)
		})
	})
}

func TestFailure(t *testing.T) {
	Convey("Failure matches its kind sentinel", t, func() {
		err := error(&omr.Failure{Kind: omr.EngineTimeout, Engine: "audiveris", Err: context.DeadlineExceeded})
		So(errors.Is(err, omr.ErrEngineTimeout), ShouldBeTrue)
		So(errors.Is(err, omr.ErrUnreadableInput), ShouldBeFalse)
		So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "omr audiveris: engine_timeout: context deadline exceeded")

		f, ok := omr.AsFailure(err)
		So(ok, ShouldBeTrue)
		So(f.Kind.String(), ShouldEqual, "engine_timeout")
	})
}
