package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windwatts/internal/table"
	"windwatts/internal/wtk"
)

type fakeStats struct {
	err   error
	calls int
}

func (f *fakeStats) Average(_ context.Context, _, _ float64, _ int, g wtk.Granularity) (*wtk.Aggregate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if g == wtk.GranGlobal {
		return &wtk.Aggregate{Granularity: g, Value: 6.67}, nil
	}
	return &wtk.Aggregate{Granularity: g, Series: []table.Bucket{{Key: 2020, Value: 5.5}}}, nil
}

func (f *fakeStats) Heights() ([]int, error) { return []int{30, 60, 100}, nil }
func (f *fakeStats) Columns() []string       { return []string{"windspeed_30m", "year"} }

type fakeHourly struct{ err error }

func (f *fakeHourly) WindwattsStats(context.Context, float64, float64, int) (*wtk.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &wtk.Stats{
		GlobalAvg: 6.0,
		YearlyAvg: []table.Bucket{{Key: 2020, Value: 5.0}},
		DailyAvg:  []table.Bucket{{Key: 1, Value: 6.0}},
	}, nil
}

func get(t *testing.T, mux *http.ServeMux, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestWindwattsEndpoint(t *testing.T) {
	fs := &fakeStats{}
	mux := BuildRoutes(fs, &fakeHourly{}, nil)

	rec, body := get(t, mux, "/windwatts?lat=39.9&long=-105.2&height=100")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 6.67, body["global_avg"], 0.001)
	yearly := body["yearly_avg"].([]any)
	require.Len(t, yearly, 1)
	first := yearly[0].(map[string]any)
	assert.EqualValues(t, 2020, first["year"])
	assert.InDelta(t, 5.5, first["avg"], 0.001)
	// global + yearly + monthly + hourly 四次
	assert.Equal(t, 4, fs.calls)
}

func TestWindwattsBadParams(t *testing.T) {
	mux := BuildRoutes(&fakeStats{}, &fakeHourly{}, nil)

	for _, path := range []string{
		"/windwatts",
		"/windwatts?lat=abc&long=1&height=30",
		"/windwatts?lat=1&long=1&height=1.5",
	} {
		rec, body := get(t, mux, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestWindwattsErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{wtk.ErrInvalidArgument, http.StatusBadRequest},
		{wtk.ErrNoData, http.StatusNotFound},
		{errors.New("athena exploded"), http.StatusBadGateway},
	}
	for _, c := range cases {
		mux := BuildRoutes(&fakeStats{err: c.err}, &fakeHourly{}, nil)
		rec, _ := get(t, mux, "/windwatts?lat=1&long=1&height=30")
		assert.Equal(t, c.status, rec.Code, c.err)
	}
}

func TestHourlyEndpoint(t *testing.T) {
	mux := BuildRoutes(&fakeStats{}, &fakeHourly{}, nil)

	rec, body := get(t, mux, "/windwatts/hourly?lat=1&long=1&height=30")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 6.0, body["global_avg"], 0.001)
	daily := body["daily_avg"].([]any)
	require.Len(t, daily, 1)
	assert.EqualValues(t, 1, daily[0].(map[string]any)["day"])
}

func TestHeightsAndColumns(t *testing.T) {
	mux := BuildRoutes(&fakeStats{}, &fakeHourly{}, nil)

	rec, body := get(t, mux, "/heights")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["heights"], 3)

	rec, body = get(t, mux, "/columns")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["columns"], 2)

	rec, body = get(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
