package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/permit"
)

var testSecret = []byte("test-signing-secret")

func testKeyFunc(token *jwt.Token) (interface{}, error) {
	return testSecret, nil
}

func signToken(t *testing.T, role string) string {
	t.Helper()
	claims := &Claims{Role: role}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func newTestHandler(t *testing.T) (*Handler, *permit.Manager) {
	mgr := permit.NewManager(permit.NewMemStore(), func() int64 { return 1 })
	_, err := mgr.Open("t1", "acme", []string{"ops", "security"}, 2, 2, 1000, 0, "")
	require.NoError(t, err)
	return NewHandler(mgr, testKeyFunc), mgr
}

func doRequest(mux *http.ServeMux, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestApproveRequiresBearerToken(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := doRequest(mux, http.MethodPost, "/tickets/t1/approve", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApproveWithValidRoleClosesAtQuorum(t *testing.T) {
	h, mgr := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := doRequest(mux, http.MethodPost, "/tickets/t1/approve", signToken(t, "ops"))
	require.Equal(t, http.StatusOK, rec.Code)

	ticket, ok, err := mgr.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, permit.StatusPending, ticket.Status)

	rec = doRequest(mux, http.MethodPost, "/tickets/t1/approve", signToken(t, "security"))
	require.Equal(t, http.StatusOK, rec.Code)

	ticket, _, err = mgr.Get("t1")
	require.NoError(t, err)
	require.Equal(t, permit.StatusAllow, ticket.Status)
}

func TestApproveWithInvalidRoleRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := doRequest(mux, http.MethodPost, "/tickets/t1/approve", signToken(t, "finance"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDenyClosesTicket(t *testing.T) {
	h, mgr := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := doRequest(mux, http.MethodPost, "/tickets/t1/deny", signToken(t, "ops"))
	require.Equal(t, http.StatusOK, rec.Code)

	ticket, _, err := mgr.Get("t1")
	require.NoError(t, err)
	require.Equal(t, permit.StatusDeny, ticket.Status)
}
