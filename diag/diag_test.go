package diag

import (
	"errors"
	"expvar"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/phoneprefix/config"
)

func TestMetricsServer_Endpoints(t *testing.T) {
	expvar.NewInt("diag_test_counter").Set(42)

	cfg := config.Default().Debug
	srv := NewMetricsServer(cfg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"diag_test_counter": 42`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsServer_Disabled(t *testing.T) {
	srv := NewMetricsServer(config.DebugConfig{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Stop before Start is a no-op.
	srv.Stop()
}

func TestCollectHostStats(t *testing.T) {
	dir := t.TempDir()
	st := CollectHostStats(filepath.Join(dir, "not", "yet", "created"))
	assert.Greater(t, st.CPUs, 0)
	assert.Greater(t, st.DiskFreeBytes, uint64(0))
}

func TestCheckFreeDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CheckFreeDisk(dir, 0))
	require.NoError(t, CheckFreeDisk(dir, 1))

	err := CheckFreeDisk(dir, ^uint64(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientDisk))
}
