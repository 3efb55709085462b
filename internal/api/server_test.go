package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/metrics"
	"github.com/visawatch/visawatch/internal/monitor"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeRegistry struct {
	descriptors map[string]monitor.PluginDescriptor
	reachable   bool
	reloadOK    bool
}

func (f *fakeRegistry) Stats() monitor.RegistryStats {
	stats := monitor.RegistryStats{TotalPlugins: len(f.descriptors)}
	for code, d := range f.descriptors {
		stats.SupportedCountries = append(stats.SupportedCountries, code)
		stats.Plugins = append(stats.Plugins, d)
	}
	return stats
}

func (f *fakeRegistry) Descriptor(countryCode string) (monitor.PluginDescriptor, bool) {
	d, ok := f.descriptors[strings.ToUpper(countryCode)]
	return d, ok
}

func (f *fakeRegistry) TestConnection(ctx context.Context, countryCode string) bool {
	return f.reachable
}

func (f *fakeRegistry) TestAllConnections(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(f.descriptors))
	for code := range f.descriptors {
		out[code] = f.reachable
	}
	return out
}

func (f *fakeRegistry) Reload(countryCode string) bool {
	_, ok := f.descriptors[strings.ToUpper(countryCode)]
	return ok && f.reloadOK
}

func (f *fakeRegistry) ReloadAll() bool {
	return f.reloadOK
}

type fakePoller struct {
	polled []int64
	err    error
}

func (f *fakePoller) Poll(ctx context.Context, entityID int64) error {
	f.polled = append(f.polled, entityID)
	return f.err
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func newTestServer(t *testing.T) (*Server, *fakeRegistry, *fakePoller, *fakePinger) {
	t.Helper()
	registry := &fakeRegistry{
		descriptors: map[string]monitor.PluginDescriptor{
			"CZ": {CountryCode: "CZ", CountryName: "Czech Republic"},
		},
		reachable: true,
		reloadOK:  true,
	}
	poller := &fakePoller{}
	pinger := &fakePinger{}
	return NewServer(registry, poller, pinger, zap.NewNop()), registry, poller, pinger
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	s, _, _, pinger := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	pinger.err = errors.New("dial refused")
	rec = doRequest(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListPlugins(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/plugins")
	require.Equal(t, http.StatusOK, rec.Code)

	var plugins []monitor.PluginDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plugins))
	require.Len(t, plugins, 1)
	require.Equal(t, "CZ", plugins[0].CountryCode)
}

func TestGetPlugin(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/plugins/CZ")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/plugins/DE")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTestPlugin(t *testing.T) {
	t.Parallel()

	s, registry, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/plugins/CZ/test")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reachable":true`)

	registry.reachable = false
	rec = doRequest(t, s, http.MethodGet, "/v1/plugins/CZ/test")
	require.Contains(t, rec.Body.String(), `"reachable":false`)

	rec = doRequest(t, s, http.MethodGet, "/v1/plugins/DE/test")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTestAllPlugins(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/plugins/test")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"CZ":true`)
}

func TestReloadPlugin(t *testing.T) {
	t.Parallel()

	s, registry, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/plugins/CZ/reload")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/plugins/DE/reload")
	require.Equal(t, http.StatusNotFound, rec.Code)

	registry.reloadOK = false
	rec = doRequest(t, s, http.MethodPost, "/v1/plugins/reload")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStats(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats monitor.RegistryStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.TotalPlugins)
}

func TestPollEntity(t *testing.T) {
	t.Parallel()

	s, _, poller, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/entities/7/poll")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{7}, poller.polled)

	rec = doRequest(t, s, http.MethodPost, "/v1/entities/abc/poll")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	poller.err = monitor.ErrEntityNotFound
	rec = doRequest(t, s, http.MethodPost, "/v1/entities/404/poll")
	require.Equal(t, http.StatusNotFound, rec.Code)

	poller.err = monitor.ErrPollInFlight
	rec = doRequest(t, s, http.MethodPost, "/v1/entities/7/poll")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already in flight")

	poller.err = errors.New("store down")
	rec = doRequest(t, s, http.MethodPost, "/v1/entities/7/poll")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
