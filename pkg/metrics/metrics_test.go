package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "etude")
				So(manager.subsystem, ShouldEqual, "practice")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithAnalysisBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.analysisBuckets, ShouldResemble, []float64{1, 10})
				So(manager.constLabels["env"], ShouldEqual, "test")
			})

			Convey("And the metrics should be registered on the registry", func() {
				manager.piecesImported.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When options receive empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "etude")
				So(manager.subsystem, ShouldEqual, "practice")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording pipeline events", func() {
			before := testutil.ToFloat64(globalManager.omrAnalyses.WithLabelValues("algorithmic", "ok"))
			RecordOMRAnalysis("algorithmic", "ok", 120*time.Millisecond)
			RecordPieceImported()
			RecordSessionRecorded()
			RecordOverallScore(87)
			RecordInsufficientData()
			RecordHistoryComparison(true)
			RecordPerformanceAnalysis("piano", "ok", 2*time.Second)

			Convey("Then counters should move", func() {
				after := testutil.ToFloat64(globalManager.omrAnalyses.WithLabelValues("algorithmic", "ok"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When selecting an engine twice", func() {
			SetSelectedEngine("oemer")
			SetSelectedEngine("audiveris")

			Convey("Then only the latest engine should be marked", func() {
				So(testutil.ToFloat64(globalManager.omrEngineSelected.WithLabelValues("audiveris")), ShouldEqual, 1)
				So(testutil.CollectAndCount(globalManager.omrEngineSelected), ShouldEqual, 1)
			})
		})

		Convey("When updating queue gauges", func() {
			UpdateQueueCapacity(10)
			UpdateQueueSize(4)
			UpdateQueueUtilization(0.4)

			Convey("Then gauges should reflect the values", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 10)
				So(testutil.ToFloat64(globalManager.queueUtilization), ShouldEqual, 0.4)
			})
		})

		Convey("Then the custom registry should be exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
