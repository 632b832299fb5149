package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/etude/internal/adapters/http/api"
	"github.com/okian/etude/internal/adapters/repository"
	service "github.com/okian/etude/internal/app"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/internal/domain/performance"
	"github.com/okian/etude/internal/synth"
	"github.com/okian/etude/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// fakeDeps records the last request and returns canned results.
type fakeDeps struct {
	pieces   map[string]model.Piece
	imported omr.Source
	title    string

	practice    service.PracticeRequest
	practiceErr error
	submitErr   error

	sessions []model.PracticeSession
	jobs     map[string]model.JobInfo
}

func newFake() *fakeDeps {
	return &fakeDeps{
		pieces: map[string]model.Piece{"p1": {ID: "p1", Title: "Scale", CreatedAt: epoch}},
		jobs:   map[string]model.JobInfo{"j1": {ID: "j1", PieceID: "p1", Status: model.JobDone, SessionID: "s1"}},
	}
}

func (f *fakeDeps) ImportPiece(_ context.Context, title string, src omr.Source) (model.Piece, error) {
	f.imported, f.title = src, title
	p := model.Piece{ID: "p2", Title: title, SourceName: src.Name, CreatedAt: epoch}
	f.pieces[p.ID] = p
	return p, nil
}

func (f *fakeDeps) Piece(_ context.Context, id string) (model.Piece, error) {
	p, ok := f.pieces[id]
	if !ok {
		return model.Piece{}, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeDeps) Pieces(_ context.Context, limit, offset int) ([]model.Piece, error) {
	if limit == 0 {
		return nil, repository.ErrInvalidLimit
	}
	out := make([]model.Piece, 0, len(f.pieces))
	for _, p := range f.pieces {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeDeps) Practice(_ context.Context, req service.PracticeRequest) (service.PracticeResult, error) {
	f.practice = req
	if f.practiceErr != nil {
		return service.PracticeResult{}, f.practiceErr
	}
	s := model.PracticeSession{ID: "s1", PieceID: req.PieceID, UserID: req.UserID, Instrument: req.Instrument, CreatedAt: epoch}
	return service.PracticeResult{Session: s}, nil
}

func (f *fakeDeps) SubmitPractice(_ context.Context, req service.PracticeRequest) (model.JobInfo, error) {
	f.practice = req
	if f.submitErr != nil {
		return model.JobInfo{}, f.submitErr
	}
	return model.JobInfo{ID: "j2", PieceID: req.PieceID, Status: model.JobQueued, CreatedAt: epoch}, nil
}

func (f *fakeDeps) Session(_ context.Context, id string) (model.PracticeSession, error) {
	for _, s := range f.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return model.PracticeSession{}, repository.ErrNotFound
}

func (f *fakeDeps) Sessions(_ context.Context, pieceID, _ string, _ int) ([]model.PracticeSession, error) {
	if _, ok := f.pieces[pieceID]; !ok {
		return nil, repository.ErrNotFound
	}
	return f.sessions, nil
}

func (f *fakeDeps) Job(_ context.Context, id string) (model.JobInfo, error) {
	j, ok := f.jobs[id]
	if !ok {
		return model.JobInfo{}, repository.ErrNotFound
	}
	return j, nil
}

func (f *fakeDeps) GetStats(context.Context) (service.Stats, error) {
	return service.Stats{Started: true, Engine: "algorithmic", Workers: 2}, nil
}

type part struct {
	field, name string
	data        []byte
}

func multipartBody(fields map[string]string, files ...part) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for _, f := range files {
		w, _ := mw.CreateFormFile(f.field, f.name)
		_, _ = w.Write(f.data)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

type errorBody struct {
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Violations []api.Violation `json:"violations"`
}

func setup(deps *fakeDeps, opts ...api.Option) *http.ServeMux {
	srv, err := api.NewServer(deps, append([]api.Option{api.WithLogger(logger.Nop())}, opts...)...)
	So(err, ShouldBeNil)
	mux := http.NewServeMux()
	srv.Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) errorBody {
	var body errorBody
	So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
	return body
}

func sheetPNG() []byte {
	marks := []synth.Mark{synth.Note(synth.Quarter, "C4"), synth.Note(synth.Quarter, "E4")}
	return synth.PNG(synth.DrawSheet([][]synth.Mark{marks}))
}

func TestPieces(t *testing.T) {
	Convey("Given the pieces routes", t, func() {
		deps := newFake()
		mux := setup(deps)

		Convey("Importing a PNG sheet creates a piece", func() {
			body, ct := multipartBody(map[string]string{"title": "Etude"}, part{"sheet", "etude.png", sheetPNG()})
			req := httptest.NewRequest(http.MethodPost, "/pieces", body)
			req.Header.Set("Content-Type", ct)
			w := do(mux, req)

			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Header().Get("Location"), ShouldEqual, "/pieces/p2")
			So(deps.title, ShouldEqual, "Etude")
			So(deps.imported.Kind, ShouldEqual, omr.KindImage)
			So(deps.imported.Name, ShouldEqual, "etude.png")

			var piece model.Piece
			So(json.NewDecoder(w.Body).Decode(&piece), ShouldBeNil)
			So(piece.ID, ShouldEqual, "p2")
		})

		Convey("A text upload is an unsupported sheet", func() {
			body, ct := multipartBody(nil, part{"sheet", "notes.txt", []byte("just some words")})
			req := httptest.NewRequest(http.MethodPost, "/pieces", body)
			req.Header.Set("Content-Type", ct)
			w := do(mux, req)

			So(w.Code, ShouldEqual, http.StatusUnsupportedMediaType)
			So(decodeError(w).Code, ShouldEqual, "unsupported_format")
		})

		Convey("A missing sheet is a bad request", func() {
			body, ct := multipartBody(map[string]string{"title": "x"})
			req := httptest.NewRequest(http.MethodPost, "/pieces", body)
			req.Header.Set("Content-Type", ct)
			w := do(mux, req)

			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Message, ShouldContainSubstring, "sheet")
		})

		Convey("A non-multipart body is a bad request", func() {
			req := httptest.NewRequest(http.MethodPost, "/pieces", strings.NewReader("{}"))
			req.Header.Set("Content-Type", "application/json")
			So(do(mux, req).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An oversized upload is rejected", func() {
			small := setup(deps, api.WithMaxUploadBytes(1024))
			body, ct := multipartBody(nil, part{"sheet", "big.png", bytes.Repeat([]byte{0x89}, 8192)})
			req := httptest.NewRequest(http.MethodPost, "/pieces", body)
			req.Header.Set("Content-Type", ct)
			w := do(small, req)

			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(decodeError(w).Code, ShouldEqual, "too_large")
		})

		Convey("Reading pieces", func() {
			So(do(mux, httptest.NewRequest(http.MethodGet, "/pieces/p1", http.NoBody)).Code, ShouldEqual, http.StatusOK)

			w := do(mux, httptest.NewRequest(http.MethodGet, "/pieces/nope", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w).Code, ShouldEqual, "not_found")

			w = do(mux, httptest.NewRequest(http.MethodGet, "/pieces?limit=5", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusOK)
			var list []model.Piece
			So(json.NewDecoder(w.Body).Decode(&list), ShouldBeNil)
			So(list, ShouldHaveLength, 1)

			So(do(mux, httptest.NewRequest(http.MethodGet, "/pieces?limit=abc", http.NoBody)).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, httptest.NewRequest(http.MethodGet, "/pieces?limit=0", http.NoBody)).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestPractice(t *testing.T) {
	Convey("Given the practice route", t, func() {
		deps := newFake()
		mux := setup(deps)
		audio := synth.WAV(make([]float64, 22050), 22050)

		post := func(path string, fields map[string]string) *httptest.ResponseRecorder {
			body, ct := multipartBody(fields, part{"audio", "take.wav", audio})
			req := httptest.NewRequest(http.MethodPost, path, body)
			req.Header.Set("Content-Type", ct)
			return do(mux, req)
		}

		Convey("A synchronous attempt returns the stored session", func() {
			w := post("/pieces/p1/sessions", map[string]string{"instrument": "Violin", "user": "ana", "dynamics": "off"})

			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Header().Get("Location"), ShouldEqual, "/sessions/s1")
			So(deps.practice.PieceID, ShouldEqual, "p1")
			So(deps.practice.UserID, ShouldEqual, "ana")
			So(deps.practice.Instrument, ShouldEqual, model.Violin)
			So(deps.practice.Dynamics, ShouldNotBeNil)
			So(*deps.practice.Dynamics, ShouldBeFalse)
			So(deps.practice.Audio, ShouldResemble, audio)
		})

		Convey("Dynamics is left to the service default when omitted", func() {
			So(post("/pieces/p1/sessions", map[string]string{"instrument": "violin"}).Code, ShouldEqual, http.StatusCreated)
			So(deps.practice.Dynamics, ShouldBeNil)
		})

		Convey("An asynchronous attempt returns the queued job", func() {
			w := post("/pieces/p1/sessions?async=true", map[string]string{"instrument": "violin"})

			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(w.Header().Get("Location"), ShouldEqual, "/jobs/j2")
		})

		Convey("An Idempotency-Key is passed on for asynchronous attempts only", func() {
			keyed := func(path, key string) *httptest.ResponseRecorder {
				body, ct := multipartBody(map[string]string{"instrument": "violin"}, part{"audio", "take.wav", audio})
				req := httptest.NewRequest(http.MethodPost, path, body)
				req.Header.Set("Content-Type", ct)
				req.Header.Set("Idempotency-Key", key)
				return do(mux, req)
			}

			So(keyed("/pieces/p1/sessions?async=true", "retry-1").Code, ShouldEqual, http.StatusAccepted)
			So(deps.practice.IdempotencyKey, ShouldEqual, "retry-1")

			So(keyed("/pieces/p1/sessions", "retry-1").Code, ShouldEqual, http.StatusCreated)
			So(deps.practice.IdempotencyKey, ShouldBeEmpty)

			w := keyed("/pieces/p1/sessions?async=true", strings.Repeat("k", 129))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			body := decodeError(w)
			So(body.Violations, ShouldHaveLength, 1)
			So(body.Violations[0].Field, ShouldEqual, "Idempotency-Key")
			So(body.Violations[0].Violation, ShouldEqual, "max")
		})

		Convey("A full queue is reported as backpressure", func() {
			deps.submitErr = fmt.Errorf("%w: queue full", service.ErrBackpressure)
			w := post("/pieces/p1/sessions?async=1", map[string]string{"instrument": "violin"})

			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decodeError(w).Code, ShouldEqual, "backpressure")
		})

		Convey("Analysis failures keep their kind", func() {
			deps.practiceErr = &performance.Failure{Kind: performance.TooShort}
			w := post("/pieces/p1/sessions", map[string]string{"instrument": "violin"})
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(decodeError(w).Code, ShouldEqual, "too_short")

			deps.practiceErr = &performance.Failure{Kind: performance.UnsupportedFormat}
			So(post("/pieces/p1/sessions", map[string]string{"instrument": "violin"}).Code, ShouldEqual, http.StatusUnsupportedMediaType)

			deps.practiceErr = &omr.Failure{Kind: omr.EngineTimeout, Engine: "audiveris"}
			So(post("/pieces/p1/sessions", map[string]string{"instrument": "violin"}).Code, ShouldEqual, http.StatusGatewayTimeout)

			deps.practiceErr = fmt.Errorf("load piece: %w", repository.ErrNotFound)
			So(post("/pieces/p1/sessions", map[string]string{"instrument": "violin"}).Code, ShouldEqual, http.StatusNotFound)

			deps.practiceErr = service.ErrNotStarted
			So(post("/pieces/p1/sessions", map[string]string{"instrument": "violin"}).Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Form violations are listed per field", func() {
			w := post("/pieces/p1/sessions", map[string]string{"instrument": "kazoo", "dynamics": "maybe"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			body := decodeError(w)
			So(body.Code, ShouldEqual, "bad_request")
			So(body.Violations, ShouldHaveLength, 2)
			So(body.Violations[0].Field, ShouldEqual, "instrument")
			So(body.Violations[0].Violation, ShouldEqual, "instrument")
			So(body.Violations[0].Message, ShouldEqual, "instrument must be a supported instrument")
			So(body.Violations[1].Field, ShouldEqual, "dynamics")
			So(body.Violations[1].Violation, ShouldEqual, "oneof")

			w = post("/pieces/p1/sessions", nil)
			body = decodeError(w)
			So(body.Violations, ShouldHaveLength, 1)
			So(body.Violations[0].Violation, ShouldEqual, "required")
			So(body.Violations[0].Message, ShouldEqual, "instrument is a required field")
		})

		Convey("Audio is required", func() {
			body, ct := multipartBody(map[string]string{"instrument": "violin"})
			req := httptest.NewRequest(http.MethodPost, "/pieces/p1/sessions", body)
			req.Header.Set("Content-Type", ct)
			w := do(mux, req)

			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Message, ShouldContainSubstring, "audio")
		})
	})
}

func TestReads(t *testing.T) {
	Convey("Given stored sessions and jobs", t, func() {
		deps := newFake()
		deps.sessions = []model.PracticeSession{{ID: "s1", PieceID: "p1", UserID: "ana", CreatedAt: epoch}}
		mux := setup(deps)

		Convey("Sessions are listed per piece", func() {
			w := do(mux, httptest.NewRequest(http.MethodGet, "/pieces/p1/sessions?user=ana", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusOK)
			var list []model.PracticeSession
			So(json.NewDecoder(w.Body).Decode(&list), ShouldBeNil)
			So(list, ShouldHaveLength, 1)

			So(do(mux, httptest.NewRequest(http.MethodGet, "/pieces/zz/sessions", http.NoBody)).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Sessions and jobs are fetched by id", func() {
			So(do(mux, httptest.NewRequest(http.MethodGet, "/sessions/s1", http.NoBody)).Code, ShouldEqual, http.StatusOK)
			So(do(mux, httptest.NewRequest(http.MethodGet, "/sessions/s9", http.NoBody)).Code, ShouldEqual, http.StatusNotFound)

			w := do(mux, httptest.NewRequest(http.MethodGet, "/jobs/j1", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusOK)
			var job model.JobInfo
			So(json.NewDecoder(w.Body).Decode(&job), ShouldBeNil)
			So(job.SessionID, ShouldEqual, "s1")
		})

		Convey("Operational endpoints respond", func() {
			w := do(mux, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats service.Stats
			So(json.NewDecoder(w.Body).Decode(&stats), ShouldBeNil)
			So(stats.Engine, ShouldEqual, "algorithmic")

			So(do(mux, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)).Code, ShouldEqual, http.StatusOK)
			So(do(mux, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)).Code, ShouldEqual, http.StatusOK)
		})

		Convey("Unknown methods are not routed", func() {
			So(do(mux, httptest.NewRequest(http.MethodDelete, "/pieces/p1", http.NoBody)).Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}
