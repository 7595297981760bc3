package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/argos/internal/adapters/http/api"
	"github.com/okian/argos/internal/adapters/mq/queue"
	"github.com/okian/argos/internal/adapters/repository"
	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/internal/domain/ranking"
	"github.com/okian/argos/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	valid   = "66EAB855018A67F8EF3A0000018A23F8EEF20031FFFFFFFFFFFF00000200DD"
	corrupt = "66EAB855018A67F8EF3A0000018A23F8EEF20031FFFFFFFFFFFF00000200DC"
)

// Mock implementations for testing
type mockDeps struct {
	mu         sync.Mutex
	seen       map[string]bool
	enqueued   []model.Batch
	enqueueErr error
	store      *repository.MemoryStore
	requireCRC bool
}

func newMockDeps() *mockDeps {
	return &mockDeps{seen: make(map[string]bool), store: repository.NewMemoryStore()}
}

func (m *mockDeps) SeenAndRecord(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return true
	}
	m.seen[id] = true
	return false
}

func (m *mockDeps) Unrecord(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}

func (m *mockDeps) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.seen))
}

func (m *mockDeps) Enqueue(_ context.Context, b model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, b)
	return nil
}

func (m *mockDeps) Latest(ctx context.Context, platformID string) (model.Evaluation, error) {
	return m.store.Latest(ctx, platformID)
}

func (m *mockDeps) Pass(ctx context.Context, platformID string, n int) (passes.Result, error) {
	return m.store.Pass(ctx, platformID, n)
}

func (m *mockDeps) Platforms(ctx context.Context) ([]string, error) {
	return m.store.Platforms(ctx)
}

func (m *mockDeps) RequireCRC() bool { return m.requireCRC }

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any { return m.stats }

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]any{"started": true}}, opts...).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeMap(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(newMockDeps())

		Convey("Then health should expose Prometheus metrics", func() {
			w := do(mux, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then stats should be JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeMap(w)["started"], ShouldEqual, true)
		})

		Convey("Then wrong methods should be rejected", func() {
			w := do(mux, http.MethodGet, "/decode", "", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestDecodeHandlers(t *testing.T) {
	Convey("Given the decode routes", t, func() {
		mux := newMux(newMockDeps())

		Convey("When a valid frame is decoded", func() {
			w := do(mux, http.MethodPost, "/decode", "", `{"frame":"`+valid+`"}`)

			Convey("Then the message should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decodeMap(w)
				So(body["crc"], ShouldEqual, true)
				So(body["values"], ShouldNotBeNil)
			})
		})

		Convey("When a malformed frame is decoded", func() {
			w := do(mux, http.MethodPost, "/decode", "", `{"frame":"66ZZ"}`)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeMap(w)["code"], ShouldEqual, "malformed_frame")
			})
		})

		Convey("When the body is missing or invalid", func() {
			So(do(mux, http.MethodPost, "/decode", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/decode", "", "{").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/decode", "", `{}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When checksums are checked", func() {
			ok := decodeMap(do(mux, http.MethodPost, "/checksum", "", `{"frame":"`+valid+`"}`))
			bad := decodeMap(do(mux, http.MethodPost, "/checksum", "", `{"frame":"`+corrupt+`"}`))
			short := decodeMap(do(mux, http.MethodPost, "/checksum", "", `{"frame":"66EA"}`))

			Convey("Then validity and length should be reported", func() {
				So(ok["valid"], ShouldEqual, true)
				So(ok["length"], ShouldEqual, 62.0)
				So(bad["valid"], ShouldEqual, false)
				So(short["valid"], ShouldEqual, false)
				So(short["length"], ShouldEqual, 4.0)
			})
		})

		Convey("When passes are evaluated synchronously", func() {
			body := `{"require_crc":true,"passes":[
				{"best_date":"2024-08-20T08:10:08.000Z","candidates":[{"frame":"` + valid + `","date":"2024-08-20T08:10:08.000Z"}]},
				{"best_date":"2024-08-19T14:26:09.000Z","candidates":[{"frame":"` + corrupt + `","date":"2024-08-19T14:25:00.000Z"}]}
			]}`
			w := do(mux, http.MethodPost, "/evaluate", "", body)

			Convey("Then one result per pass should come back in order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeMap(w)
				results := out["results"].([]any)
				So(len(results), ShouldEqual, 2)
				So(results[0].(map[string]any)["tier_name"], ShouldEqual, "best")
				So(results[1].(map[string]any)["message"], ShouldBeNil)
				So(out["summary"].(map[string]any)["decoded"], ShouldEqual, 1.0)
			})
		})

		Convey("When the evaluate body has no passes", func() {
			w := do(mux, http.MethodPost, "/evaluate", "", `{"require_crc":false}`)

			Convey("Then it should be a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a body exceeds the limit", func() {
			small := newMux(newMockDeps(), api.WithMaxBodyBytes(16))
			w := do(small, http.MethodPost, "/decode", "", `{"frame":"`+valid+`"}`)

			Convey("Then it should be rejected as too large", func() {
				So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			})
		})
	})
}

// counterValue sums the named counter over series carrying every given label.
func counterValue(name string, labels map[string]string) float64 {
	mfs, err := metrics.GetRegistry().Gather()
	if err != nil {
		return -1
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, l := range m.GetLabel() {
				if v, ok := labels[l.GetName()]; ok && v == l.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestDecodeHandlers_Metrics(t *testing.T) {
	const (
		decoded   = "argos_telemetry_frames_decoded_total"
		malformed = "argos_telemetry_decode_errors_total"
		checksums = "argos_telemetry_checksums_total"
		selected  = "argos_telemetry_selections_total"
	)

	Convey("Given the decode routes", t, func() {
		mux := newMux(newMockDeps())

		Convey("When a valid frame is decoded", func() {
			frames := counterValue(decoded, nil)
			ok := counterValue(checksums, map[string]string{"valid": "true"})
			So(do(mux, http.MethodPost, "/decode", "", `{"frame":"`+valid+`"}`).Code, ShouldEqual, http.StatusOK)

			Convey("Then the frame and its checksum should be counted", func() {
				So(counterValue(decoded, nil), ShouldEqual, frames+1)
				So(counterValue(checksums, map[string]string{"valid": "true"}), ShouldEqual, ok+1)
			})
		})

		Convey("When a malformed frame is decoded", func() {
			errs := counterValue(malformed, nil)
			So(do(mux, http.MethodPost, "/decode", "", `{"frame":"66ZZ"}`).Code, ShouldEqual, http.StatusBadRequest)

			Convey("Then a decode error should be counted", func() {
				So(counterValue(malformed, nil), ShouldEqual, errs+1)
			})
		})

		Convey("When a corrupt frame is checked", func() {
			bad := counterValue(checksums, map[string]string{"valid": "false"})
			So(do(mux, http.MethodPost, "/checksum", "", `{"frame":"`+corrupt+`"}`).Code, ShouldEqual, http.StatusOK)

			Convey("Then an invalid checksum should be counted", func() {
				So(counterValue(checksums, map[string]string{"valid": "false"}), ShouldEqual, bad+1)
			})
		})

		Convey("When passes are evaluated synchronously", func() {
			best := counterValue(selected, map[string]string{"tier": "best"})
			none := counterValue(selected, map[string]string{"tier": "none"})
			frames := counterValue(decoded, nil)
			body := `{"require_crc":true,"passes":[
				{"best_date":"2024-08-20T08:10:08.000Z","candidates":[{"frame":"` + valid + `","date":"2024-08-20T08:10:08.000Z"}]},
				{"best_date":"2024-08-19T14:26:09.000Z","candidates":[{"frame":"` + corrupt + `","date":"2024-08-19T14:25:00.000Z"}]}
			]}`
			So(do(mux, http.MethodPost, "/evaluate", "", body).Code, ShouldEqual, http.StatusOK)

			Convey("Then every selection should be counted by tier", func() {
				So(counterValue(selected, map[string]string{"tier": "best"}), ShouldEqual, best+1)
				So(counterValue(selected, map[string]string{"tier": "none"}), ShouldEqual, none+1)
				So(counterValue(decoded, nil), ShouldEqual, frames+1)
			})
		})
	})
}

func TestPlatformHandlers(t *testing.T) {
	ctx := context.Background()

	Convey("Given the platform routes", t, func() {
		deps := newMockDeps()
		mux := newMux(deps)

		Convey("When a JSON batch is posted", func() {
			body := `{"batch_id":"b1","passes":[{"best_date":"x","candidates":[{"frame":"` + valid + `","date":"x"}]}]}`
			w := do(mux, http.MethodPost, "/platforms/260603/batches", "application/json; charset=utf-8", body)

			Convey("Then it should be accepted and enqueued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(decodeMap(w)["batch_id"], ShouldEqual, "b1")
				So(len(deps.enqueued), ShouldEqual, 1)
				So(deps.enqueued[0].PlatformID, ShouldEqual, "260603")
				So(deps.enqueued[0].Passes, ShouldHaveLength, 1)
			})

			Convey("Then the same batch again should be a duplicate", func() {
				again := do(mux, http.MethodPost, "/platforms/260603/batches", "", body)
				So(again.Code, ShouldEqual, http.StatusOK)
				So(decodeMap(again)["duplicate"], ShouldEqual, true)
				So(len(deps.enqueued), ShouldEqual, 1)
			})
		})

		Convey("When a batch has no id", func() {
			w := do(mux, http.MethodPost, "/platforms/260603/batches", "", `{"passes":[]}`)

			Convey("Then one should be generated", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(decodeMap(w)["batch_id"], ShouldNotBeEmpty)
				So(deps.enqueued[0].RequireCRC, ShouldBeFalse)
			})
		})

		Convey("When a getXml document is posted", func() {
			doc, err := os.ReadFile("../../argosxml/testdata/getxml.xml")
			So(err, ShouldBeNil)
			w := do(mux, http.MethodPost, "/platforms/260603/batches?batch_id=x1&require_crc=true", "application/xml", string(doc))

			Convey("Then the platform's passes should be enqueued newest first", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				b := deps.enqueued[0]
				So(b.ID, ShouldEqual, "x1")
				So(b.RequireCRC, ShouldBeTrue)
				So(len(b.Passes), ShouldEqual, 3)
				So(b.Passes[0].BestDate, ShouldEqual, "2024-08-20T08:10:08.000Z")
			})

			Convey("Then an invalid require_crc should be rejected", func() {
				w := do(mux, http.MethodPost, "/platforms/260603/batches?require_crc=maybe", "application/xml", string(doc))
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("Then an unknown platform should be unprocessable", func() {
				w := do(mux, http.MethodPost, "/platforms/1/batches", "text/xml", string(doc))
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			})
		})

		Convey("When the document is malformed or of another type", func() {
			So(do(mux, http.MethodPost, "/platforms/1/batches", "application/xml", "<data>").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/platforms/1/batches", "text/csv", "a,b").Code, ShouldEqual, http.StatusUnsupportedMediaType)
		})

		Convey("When the queue is full", func() {
			deps.enqueueErr = queue.ErrQueueFull
			w := do(mux, http.MethodPost, "/platforms/1/batches", "", `{"batch_id":"b9","passes":[]}`)

			Convey("Then it should signal backpressure and forget the id", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(deps.Size(), ShouldEqual, int64(0))
			})
		})

		Convey("When the queue is closed", func() {
			deps.enqueueErr = queue.ErrQueueClosed
			w := do(mux, http.MethodPost, "/platforms/1/batches", "", `{"passes":[]}`)

			Convey("Then the service should be unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When an evaluation is stored", func() {
			b := model.Batch{ID: "b1", PlatformID: "260603", Passes: []passes.Pass{
				{BestDate: "2024-08-20T08:10:08.000Z", Candidates: []ranking.Candidate{{Frame: valid, CollectedAt: "2024-08-20T08:10:08.000Z"}}},
			}}
			So(deps.store.Save(ctx, b.Evaluate(time.Date(2024, 8, 21, 0, 0, 0, 0, time.UTC))), ShouldBeNil)

			Convey("Then platforms should list it", func() {
				out := decodeMap(do(mux, http.MethodGet, "/platforms", "", ""))
				So(out["count"], ShouldEqual, 1.0)
				So(out["platforms"], ShouldResemble, []any{"260603"})
			})

			Convey("Then its passes should be readable", func() {
				w := do(mux, http.MethodGet, "/platforms/260603/passes", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeMap(w)
				So(out["batch_id"], ShouldEqual, "b1")
				So(out["evaluated_at"], ShouldEqual, "2024-08-21T00:00:00Z")
			})

			Convey("Then a single pass should be addressable", func() {
				w := do(mux, http.MethodGet, "/platforms/260603/passes/0", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeMap(w)["tier"], ShouldEqual, float64(ranking.TierBest))
			})

			Convey("Then out of range and invalid passes should fail", func() {
				So(do(mux, http.MethodGet, "/platforms/260603/passes/1", "", "").Code, ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodGet, "/platforms/260603/passes/x", "", "").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When an unknown platform is read", func() {
			w := do(mux, http.MethodGet, "/platforms/404/passes", "", "")

			Convey("Then it should be not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeMap(w)["code"], ShouldEqual, "not_found")
			})
		})
	})
}

func TestWrapKind(t *testing.T) {
	Convey("Given a wrapped API error", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause should match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
			So(errors.Is(api.WrapKind("api.op", api.ErrBackpressure, nil), api.ErrBackpressure), ShouldBeTrue)
		})
	})
}
