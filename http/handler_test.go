package http

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	kithttp "github.com/cheeseformice/ranking/kit/transport/http"
	"github.com/cheeseformice/ranking/kit/prom"
	"github.com/cheeseformice/ranking/kit/prom/promtest"
	"github.com/cheeseformice/ranking/scheduler"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeQueries struct {
	rank ranking.RankResult
	page ranking.PageResult
	err  error

	gotTable, gotStat string
	gotArg            int64
}

func (f *fakeQueries) GetRank(table, stat string, value int64) (ranking.RankResult, error) {
	f.gotTable, f.gotStat, f.gotArg = table, stat, value
	return f.rank, f.err
}

func (f *fakeQueries) GetPage(table, stat string, startRank int64) (ranking.PageResult, error) {
	f.gotTable, f.gotStat, f.gotArg = table, stat, startRank
	return f.page, f.err
}

type fakeScheduler struct {
	err      error
	ready    bool
	state    scheduler.State
	status   []scheduler.TableStatus
	signals  int
	triggers []string
}

func (f *fakeScheduler) SignalUpdate(context.Context) error {
	f.signals++
	return f.err
}

func (f *fakeScheduler) Trigger(table string) error {
	f.triggers = append(f.triggers, table)
	return f.err
}

func (f *fakeScheduler) State() scheduler.State          { return f.state }
func (f *fakeScheduler) Status() []scheduler.TableStatus { return f.status }
func (f *fakeScheduler) Ready() bool                     { return f.ready }

func newTestHandler(t *testing.T, q *fakeQueries, s *fakeScheduler) *Handler {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := prom.NewRegistry(log)
	h := NewHandler(log, q, s, reg.HTTPHandler())
	reg.MustRegisterAll(h)
	return h
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHandler_GetRank(t *testing.T) {
	q := &fakeQueries{rank: ranking.RankResult{Rank: 78, Value: 800}}
	h := newTestHandler(t, q, &fakeScheduler{})

	rec := serve(h, http.MethodGet, "/api/v1/rank/player/first?value=650")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var got ranking.RankResult
	decode(t, rec, &got)
	require.Equal(t, q.rank, got)
	require.Equal(t, "player", q.gotTable)
	require.Equal(t, "first", q.gotStat)
	require.Equal(t, int64(650), q.gotArg)
}

func TestHandler_GetPage(t *testing.T) {
	q := &fakeQueries{page: ranking.PageResult{Rank: 39, Value: 800, Outdated: true}}
	h := newTestHandler(t, q, &fakeScheduler{})

	rec := serve(h, http.MethodGet, "/api/v1/page/tribe_stats/bootcamp?start=40")
	require.Equal(t, http.StatusOK, rec.Code)

	var got ranking.PageResult
	decode(t, rec, &got)
	require.Equal(t, q.page, got)
	require.Equal(t, "tribe_stats", q.gotTable)
	require.Equal(t, int64(40), q.gotArg)
}

func TestHandler_QueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{
			name:   "missing value",
			target: "/api/v1/rank/player/first",
			status: http.StatusBadRequest,
			code:   errors.EInvalid,
		},
		{
			name:   "non integer start",
			target: "/api/v1/page/player/first?start=ten",
			status: http.StatusBadRequest,
			code:   errors.EInvalid,
		},
		{
			name:   "unknown table",
			target: "/api/v1/rank/clan/first?value=1",
			err:    ranking.ErrUnknownTable("query.GetRank", "clan"),
			status: http.StatusNotFound,
			code:   errors.EUnknownTable,
		},
		{
			name:   "page too far",
			target: "/api/v1/page/player/first?start=100000",
			err:    ranking.ErrPageTooFar("query.GetPage", 100000, 3),
			status: http.StatusNotFound,
			code:   errors.EPageTooFar,
		},
		{
			name:   "unavailable",
			target: "/api/v1/rank/player/first?value=1",
			err:    ranking.ErrUnavailable("query.GetRank", "player"),
			status: http.StatusServiceUnavailable,
			code:   errors.EUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeQueries{err: tt.err}, &fakeScheduler{})

			rec := serve(h, http.MethodGet, tt.target)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.code, rec.Header().Get(kithttp.PlatformErrorCodeHeader))

			var body struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			decode(t, rec, &body)
			require.Equal(t, tt.code, body.Code)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestHandler_Update(t *testing.T) {
	s := &fakeScheduler{}
	h := newTestHandler(t, &fakeQueries{}, s)

	rec := serve(h, http.MethodPost, "/api/v1/update")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, s.signals)

	s.err = &errors.Error{Code: errors.EUnavailable, Msg: "scheduler stopped"}
	rec = serve(h, http.MethodPost, "/api/v1/update")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, 2, s.signals)

	rec = serve(h, http.MethodGet, "/api/v1/update")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Rebuild(t *testing.T) {
	s := &fakeScheduler{}
	h := newTestHandler(t, &fakeQueries{}, s)

	rec := serve(h, http.MethodPost, "/api/v1/rebuild/player")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"player"}, s.triggers)

	s.err = ranking.ErrUnknownTable("scheduler.Trigger", "clan")
	rec = serve(h, http.MethodPost, "/api/v1/rebuild/clan")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_HealthAndReady(t *testing.T) {
	s := &fakeScheduler{
		state:  scheduler.StateGenerating,
		status: []scheduler.TableStatus{{Table: "player", Building: true}},
	}
	h := newTestHandler(t, &fakeQueries{}, s)

	rec := serve(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var got struct {
		Status string                  `json:"status"`
		State  string                  `json:"state"`
		Tables []scheduler.TableStatus `json:"tables"`
	}
	decode(t, rec, &got)
	require.Equal(t, "not ready", got.Status)
	require.Equal(t, "generating", got.State)
	require.Len(t, got.Tables, 1)
	require.True(t, got.Tables[0].Building)

	s.ready, s.state = true, scheduler.StateServing
	rec = serve(h, http.MethodGet, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ReadyCompressed(t *testing.T) {
	s := &fakeScheduler{ready: true, state: scheduler.StateServing}
	for i := 0; i < 50; i++ {
		s.status = append(s.status, scheduler.TableStatus{
			Table:     fmt.Sprintf("table_%02d", i),
			Available: true,
			Samples:   int64(i * 1000),
		})
	}
	h := newTestHandler(t, &fakeQueries{}, s)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var got struct {
		Tables []scheduler.TableStatus `json:"tables"`
	}
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	require.Len(t, got.Tables, 50)
}

func TestHandler_Metrics(t *testing.T) {
	h := newTestHandler(t, &fakeQueries{}, &fakeScheduler{})

	serve(h, http.MethodGet, "/api/v1/rank/player/first?value=1")
	serve(h, http.MethodGet, "/api/v1/rank/player/first?value=2")

	mfs := promtest.Scrape(t, h)
	m := promtest.Value(t, mfs, "http_api_requests_total", promtest.Labels{
		"handler":       "rankingd",
		"method":        http.MethodGet,
		"path":          "/api/v1/rank/{table}/{stat}",
		"status":        "2XX",
		"response_code": "200",
	})
	require.Equal(t, float64(2), m)
}
