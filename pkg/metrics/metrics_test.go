package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then the domain metrics are registered", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Enabled(), ShouldBeTrue)
				manager.noticesReceived.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make(map[string]bool, len(families))
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["noticeledger_engine_notices_received_total"], ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("sub"),
				WithMetricPrefix("pre"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.ledgerAppends.Inc()

			Convey("Then names and labels follow the options", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_sub_pre_ledger_appends_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When options carry empty values", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then the defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "noticeledger")
				So(manager.subsystem, ShouldEqual, "engine")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.customLabels, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording pipeline metrics", func() {
			before := value(globalManager.noticesProcessed)
			RecordNoticeReceived()
			RecordNoticeProcessed()
			RecordNoticeSkipped("test-topic")
			RecordExtractionError("SwiftBAT")
			RecordIdentityCreated()
			RecordIdentityAmbiguous()
			RecordRetraction()
			RecordTransactionLatency(1.5)

			Convey("Then counters move", func() {
				So(value(globalManager.noticesProcessed), ShouldEqual, before+1)
				So(value(globalManager.noticesSkipped.WithLabelValues("test-topic")), ShouldBeGreaterThanOrEqualTo, 1.0)
				So(value(globalManager.extractionErrors.WithLabelValues("SwiftBAT")), ShouldBeGreaterThanOrEqualTo, 1.0)
			})
		})

		Convey("When recording store and stream metrics", func() {
			UpdateWindowSize(42)
			UpdateStreamState(StreamReconnecting)
			UpdateHeartbeatAge(3 * time.Second)
			UpdateQueueSize(7)

			Convey("Then gauges hold the last value", func() {
				So(value(globalManager.windowSize), ShouldEqual, 42.0)
				So(value(globalManager.streamState), ShouldEqual, float64(StreamReconnecting))
				So(value(globalManager.heartbeatAge), ShouldEqual, 3.0)
				So(value(globalManager.queueSize), ShouldEqual, 7.0)
			})

			Convey("Then the remaining recorders do not panic", func() {
				So(func() {
					RecordLedgerAppend()
					RecordLedgerAppendError()
					RecordLedgerCorruptRow()
					RecordWindowEviction()
					RecordWindowCorruptRow()
					RecordWindowWriteError()
					RecordBackup()
					RecordBackupFailure()
					RecordReconnectAttempt()
					RecordReconnectSuccess()
					RecordQueueEnqueue()
					RecordQueueEnqueueError()
					RecordSpoolDuplicate()
					RecordSinkDelivered()
					RecordSinkDropped()
					RecordCatalogReload()
					RecordHTTPRequest("/events", "GET", "200")
					RecordHTTPRequestDuration("/events", "GET", "200", 0.4)
					RecordErrorByComponent("ledger", "io")
				}, ShouldNotPanic)
			})
		})

		Convey("When exposing the registry", func() {
			Convey("Then the custom registry is returned", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}

func TestMetricsDisabled(t *testing.T) {
	Convey("Given a disabled manager installed globally", t, func() {
		saved := globalManager
		defer func() { globalManager = saved }()
		globalManager = NewManager(WithMetricsEnabled(false), WithPrometheusRegistry(prometheus.NewRegistry()))

		Convey("When recording", func() {
			RecordNoticeProcessed()

			Convey("Then nothing is counted", func() {
				So(value(globalManager.noticesProcessed), ShouldEqual, 0.0)
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordLedgerAppend()
					UpdateWindowSize(j)
				}
			}()
		}
		wg.Wait()

		Convey("Then recording is safe", func() {
			So(value(globalManager.ledgerAppends), ShouldBeGreaterThanOrEqualTo, 1000.0)
		})
	})
}

func value(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return -1
	}
	if pb.Counter != nil {
		return pb.GetCounter().GetValue()
	}
	return pb.GetGauge().GetValue()
}
