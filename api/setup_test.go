package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/api"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler *api.Handler
	router  http.Handler
	svc     *billing.Service
	mem     *store.TxMemory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewTxMemory()
	svc := billing.NewService(mem)
	svc.Now = func() time.Time { return testNow }
	n := 0
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := api.NewHandler(svc, logger)
	h.Store = mem
	h.Now = func() time.Time { return testNow }

	return &testServer{
		handler: h,
		router:  api.NewRouter(h, api.RouterOptions{StaticDir: t.TempDir()}),
		svc:     svc,
		mem:     mem,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createResident(t *testing.T, id, base string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/residents", map[string]any{
		"id":               id,
		"name":             "Resident " + id,
		"unit":             id,
		"email":            id + "@example.com",
		"base_maintenance": base,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) generate(t *testing.T, period string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": period})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
