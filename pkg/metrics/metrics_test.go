package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// sample returns the value of the first series of the named family whose
// labels include want, or -1 when absent.
func sample(reg *prometheus.Registry, name string, want map[string]string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then metrics should use the argos namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.RecordFrameDecoded()
				So(sample(registry, "argos_telemetry_frames_decoded_total", nil), ShouldEqual, 1.0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("ops"),
				WithSubsystem("ingest"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.RecordDecodeError()

			Convey("Then names and constant labels should follow them", func() {
				So(sample(registry, "ops_ingest_decode_errors_total", map[string]string{"env": "test"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_decode_errors_total", nil), ShouldEqual, -1.0)
			})
		})

		Convey("When empty option values are given", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "argos")
				So(manager.subsystem, ShouldEqual, "telemetry")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.customLabels, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry))

		Convey("When decoding outcomes are recorded", func() {
			m.RecordChecksum(true)
			m.RecordChecksum(true)
			m.RecordChecksum(false)
			m.RecordSelection("best")
			m.RecordSelection("none")
			m.RecordSelection("best")
			m.RecordEvaluationLatency(2.5)

			Convey("Then they should be split by label", func() {
				So(sample(registry, "argos_telemetry_checksums_total", map[string]string{"valid": "true"}), ShouldEqual, 2.0)
				So(sample(registry, "argos_telemetry_checksums_total", map[string]string{"valid": "false"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_selections_total", map[string]string{"tier": "best"}), ShouldEqual, 2.0)
				So(sample(registry, "argos_telemetry_passes_evaluated_total", nil), ShouldEqual, 3.0)
				So(sample(registry, "argos_telemetry_evaluation_latency_milliseconds", nil), ShouldEqual, 1.0)
			})
		})

		Convey("When queue state is updated", func() {
			m.UpdateQueue(25, 100)
			m.RecordQueueEnqueue()
			m.RecordQueueDequeue()
			m.RecordQueueEnqueueError()

			Convey("Then size, capacity and utilization should be set", func() {
				So(sample(registry, "argos_telemetry_queue_size", nil), ShouldEqual, 25.0)
				So(sample(registry, "argos_telemetry_queue_capacity", nil), ShouldEqual, 100.0)
				So(sample(registry, "argos_telemetry_queue_utilization_ratio", nil), ShouldEqual, 0.25)
				So(sample(registry, "argos_telemetry_queue_enqueue_errors_total", nil), ShouldEqual, 1.0)
			})
		})

		Convey("When a zero capacity queue is reported", func() {
			m.UpdateQueue(3, 0)

			Convey("Then utilization should stay untouched", func() {
				So(sample(registry, "argos_telemetry_queue_utilization_ratio", nil), ShouldEqual, 0.0)
			})
		})

		Convey("When worker, store and publish activity is recorded", func() {
			m.UpdateWorkerCount(4)
			m.AddWorkerActive(2)
			m.AddWorkerActive(-1)
			m.RecordWorkerProcessingLatency(1.0)
			m.RecordWorkerError()
			m.UpdateStoreRecords(7)
			m.RecordStoreLatency("save", 0.3)
			m.RecordPublish(true)
			m.RecordPublish(false)
			m.RecordBatch("accepted")
			m.RecordBatch("duplicate")

			Convey("Then every series should reflect it", func() {
				So(sample(registry, "argos_telemetry_worker_count", nil), ShouldEqual, 4.0)
				So(sample(registry, "argos_telemetry_worker_active_count", nil), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_worker_errors_total", nil), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_store_records", nil), ShouldEqual, 7.0)
				So(sample(registry, "argos_telemetry_store_latency_milliseconds", map[string]string{"op": "save"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_publishes_total", map[string]string{"result": "ok"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_publishes_total", map[string]string{"result": "error"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_batches_total", map[string]string{"outcome": "duplicate"}), ShouldEqual, 1.0)
			})
		})

		Convey("When HTTP and error metrics are recorded", func() {
			m.RecordHTTPRequest("/decode", "POST", "200")
			m.RecordHTTPRequestDuration("/decode", "POST", "200", 4)
			m.RecordErrorByComponent("decoder", "malformed_frame")
			m.RecordErrorByEndpoint("/decode", "POST", "bad_request")
			m.UpdateSystem(1024, 12)

			Convey("Then the labelled series should exist", func() {
				labels := map[string]string{"endpoint": "/decode", "method": "POST", "status_code": "200"}
				So(sample(registry, "argos_telemetry_http_requests_total", labels), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_http_request_duration_milliseconds", labels), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_errors_by_component_total", map[string]string{"component": "decoder"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_errors_by_endpoint_total", map[string]string{"error_type": "bad_request"}), ShouldEqual, 1.0)
				So(sample(registry, "argos_telemetry_system_memory_usage_bytes", nil), ShouldEqual, 1024.0)
				So(sample(registry, "argos_telemetry_system_goroutine_count", nil), ShouldEqual, 12.0)
			})
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the package level helpers", t, func() {
		before := sample(GetRegistry(), "argos_telemetry_frames_decoded_total", nil)

		Convey("When they are called", func() {
			So(func() {
				RecordFrameDecoded()
				RecordDecodeError()
				RecordChecksum(true)
				RecordSelection("crc")
				RecordEvaluationLatency(1)
				RecordBatch("rejected")
				UpdateQueue(1, 10)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(2)
				AddWorkerActive(1)
				AddWorkerActive(-1)
				RecordWorkerProcessingLatency(1)
				RecordWorkerError()
				UpdateStoreRecords(1)
				RecordStoreLatency("latest", 1)
				RecordPublish(true)
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 1)
				RecordErrorByComponent("api", "bad_request")
				RecordErrorByEndpoint("/healthz", "GET", "bad_request")
				UpdateSystem(1, 1)
			}, ShouldNotPanic)

			Convey("Then they should write to the global registry", func() {
				So(sample(GetRegistry(), "argos_telemetry_frames_decoded_total", nil), ShouldEqual, before+1)
			})
		})
	})
}
