package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *mux.Router
	tokens *TokenService
	db     *MemDB
}

func newTestServer() *testServer {
	db := NewMemoryDB()
	tokens := newTestTokenService(db)
	auth := NewAuthService(db, tokens, false, discardLogger())
	app := &App{
		DB:          db,
		Auth:        auth,
		logger:      discardLogger(),
		rateLimiter: NewRateLimiter(6000),
	}
	return &testServer{router: newRouter(app), tokens: tokens, db: db}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) signup(t *testing.T, email, password string) string {
	t.Helper()
	rr := s.do(t, "POST", "/oauth/signup", "", creds{Email: email, Password: password})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var pair TokenPair
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pair))
	require.NotEmpty(t, pair.AccessToken)
	return pair.AccessToken
}

func TestSignupEndpoint(t *testing.T) {
	s := newTestServer()
	s.signup(t, "user@example.com", "password123")

	tests := []struct {
		name string
		body creds
		want int
	}{
		{"duplicate email", creds{Email: "user@example.com", Password: "password123"}, http.StatusUnprocessableEntity},
		{"short password", creds{Email: "other@example.com", Password: "short"}, http.StatusUnprocessableEntity},
		{"bad email", creds{Email: "not-an-email", Password: "password123"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, "POST", "/oauth/signup", "", tc.body)
			require.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestLoginEndpoint(t *testing.T) {
	s := newTestServer()
	s.signup(t, "user@example.com", "password123")

	rr := s.do(t, "POST", "/oauth/login", "", creds{Email: "user@example.com", Password: "password123"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, "POST", "/oauth/login", "", creds{Email: "user@example.com", Password: "wrong-password"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, "POST", "/oauth/login", "", creds{Email: "nobody@example.com", Password: "password123"})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCountriesRequireAuth(t *testing.T) {
	s := newTestServer()

	rr := s.do(t, "GET", "/api/countries", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// A token with no store record maps to 404.
	rr = s.do(t, "GET", "/api/countries", "no-such-token", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCountriesList(t *testing.T) {
	s := newTestServer()
	token := s.signup(t, "user@example.com", "password123")

	var out struct{ Data []*Country }

	rr := s.do(t, "GET", "/api/countries", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.Len(t, out.Data, 10)

	rr = s.do(t, "GET", "/api/countries?sort=-name&limit=2", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.Len(t, out.Data, 2)
	require.Equal(t, "United Kingdom", out.Data[0].Name)

	rr = s.do(t, "GET", "/api/countries?sort=name&limit=3&offset=1", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.Len(t, out.Data, 3)
	require.Equal(t, "Brazil", out.Data[0].Name)

	rr = s.do(t, "GET", "/api/countries?sort=population", token, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, "GET", "/api/countries?limit=nope", token, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestCountryGet(t *testing.T) {
	s := newTestServer()
	token := s.signup(t, "user@example.com", "password123")

	rr := s.do(t, "GET", "/api/countries/Singapore", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct{ Data *Country }
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.Equal(t, "SG", out.Data.Code)
	require.Equal(t, 8, out.Data.Offset)

	rr = s.do(t, "GET", "/api/countries/Atlantis", token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTransparentRefreshHeader(t *testing.T) {
	s := newTestServer()

	base := time.Now().Add(-10 * time.Minute)
	s.tokens.now = func() time.Time { return base }
	expired := s.signup(t, "user@example.com", "password123")
	s.tokens.now = time.Now

	rr := s.do(t, "GET", "/api/countries", expired, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	newToken := rr.Header().Get("X-New-Token")
	require.NotEmpty(t, newToken)
	require.NotEqual(t, expired, newToken)

	// The replacement works without triggering another reissue.
	rr = s.do(t, "GET", "/api/countries", newToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("X-New-Token"))

	// The expired token was revoked by its own failed verification and
	// stays dead.
	rr = s.do(t, "GET", "/api/countries", expired, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer()
	token := s.signup(t, "user@example.com", "password123")

	rr := s.do(t, "POST", "/oauth/refresh", "", map[string]string{"token": token})
	require.Equal(t, http.StatusCreated, rr.Code)
	var pair TokenPair
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEqual(t, token, pair.AccessToken)
}

func TestLogoutEndpoint(t *testing.T) {
	s := newTestServer()
	token := s.signup(t, "user@example.com", "password123")

	rr := s.do(t, "POST", "/oauth/logout", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, "GET", "/api/countries", token, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer()
	for _, path := range []string{"/health", "/ready"} {
		rr := s.do(t, "GET", path, "", nil)
		require.Equal(t, http.StatusOK, rr.Code, fmt.Sprintf("GET %s", path))
	}
}
