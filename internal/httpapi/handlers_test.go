package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"pulsegrid.org/internal/auth"
)

const testSecret = "httpapi-test-secret-32-characters!!"

func newTestAPI(t *testing.T) (*API, *auth.InMemoryStore, *auth.User) {
	t.Helper()
	store := auth.NewInMemoryStore()
	hash, err := auth.HashPasswordCost("admin123", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &auth.User{
		ID:           uuid.New(),
		Username:     "admin",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	store.AddUser(user)

	svc, err := auth.NewService(store, auth.WithSecret(testSecret))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	return New(svc, ReadyProbe{}, "test", Options{}), store, user
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "httpapi-test")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestLoginEndpointWireShape(t *testing.T) {
	api, _, user := newTestAPI(t)
	handler := api.Handler()

	rr := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "admin", "password": "admin123"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// These field names are a client compatibility contract.
	for _, field := range []string{"access_token", "refresh_token", "expires_in", "token_type", "user"} {
		if _, ok := body[field]; !ok {
			t.Fatalf("response missing field %q: %s", field, rr.Body.String())
		}
	}

	var resp auth.LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode typed response: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 900 {
		t.Fatalf("unexpected token metadata: %+v", resp)
	}
	if resp.User == nil || resp.User.ID != user.ID {
		t.Fatalf("unexpected user: %+v", resp.User)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("password_hash")) {
		t.Fatalf("response leaks password digest")
	}
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	api, _, _ := newTestAPI(t)
	handler := api.Handler()

	rr := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "admin", "password": "nope"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rrUnknown := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "ghost", "password": "nope"}, nil)
	if rrUnknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", rrUnknown.Code)
	}

	// Same status and message for both failure modes.
	if rr.Body.String() == "" || rrUnknown.Body.String() == "" {
		t.Fatalf("expected JSON error bodies")
	}
	var a, b map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &a)
	_ = json.Unmarshal(rrUnknown.Body.Bytes(), &b)
	if a["error"] != b["error"] {
		t.Fatalf("enumeration leak: %v vs %v", a["error"], b["error"])
	}
}

func TestLoginEndpointInactiveUser(t *testing.T) {
	api, store, _ := newTestAPI(t)
	hash, _ := auth.HashPasswordCost("sleepy123", bcrypt.MinCost)
	store.AddUser(&auth.User{
		ID:           uuid.New(),
		Username:     "dormant",
		PasswordHash: hash,
		Role:         auth.RoleViewer,
		IsActive:     false,
	})
	handler := api.Handler()

	rr := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "dormant", "password": "sleepy123"}, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for inactive user, got %d", rr.Code)
	}
}

func TestRefreshEndpointReplayRejected(t *testing.T) {
	api, _, _ := newTestAPI(t)
	handler := api.Handler()

	login := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "admin", "password": "admin123"}, nil)
	var resp auth.LoginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	first := doJSON(t, handler, http.MethodPost, "/v1/auth/refresh",
		map[string]string{"refresh_token": resp.RefreshToken}, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 on first refresh, got %d", first.Code)
	}

	replay := doJSON(t, handler, http.MethodPost, "/v1/auth/refresh",
		map[string]string{"refresh_token": resp.RefreshToken}, nil)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", replay.Code)
	}
}

func TestLogoutEndpointIdempotent(t *testing.T) {
	api, _, _ := newTestAPI(t)
	handler := api.Handler()

	login := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "admin", "password": "admin123"}, nil)
	var resp auth.LoginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	for i := 0; i < 2; i++ {
		rr := doJSON(t, handler, http.MethodPost, "/v1/auth/logout",
			map[string]string{"refresh_token": resp.RefreshToken}, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout call %d: expected 200, got %d", i+1, rr.Code)
		}
	}
}

func TestMeEndpointRequiresBearer(t *testing.T) {
	api, _, user := newTestAPI(t)
	handler := api.Handler()

	rr := doJSON(t, handler, http.MethodGet, "/v1/auth/me", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	login := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "admin", "password": "admin123"}, nil)
	var resp auth.LoginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+resp.AccessToken)
	authed := doJSON(t, handler, http.MethodGet, "/v1/auth/me", nil, header)
	if authed.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", authed.Code, authed.Body.String())
	}

	var got auth.User
	if err := json.Unmarshal(authed.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("unexpected user id %s", got.ID)
	}
}

func TestLogoutAllEndpointRoleCheck(t *testing.T) {
	api, store, _ := newTestAPI(t)
	hash, _ := auth.HashPasswordCost("viewer123", bcrypt.MinCost)
	viewer := &auth.User{
		ID:           uuid.New(),
		Username:     "viewer",
		PasswordHash: hash,
		Role:         auth.RoleViewer,
		IsActive:     true,
	}
	store.AddUser(viewer)
	handler := api.Handler()

	login := doJSON(t, handler, http.MethodPost, "/v1/auth/login",
		map[string]string{"username": "viewer", "password": "viewer123"}, nil)
	var resp auth.LoginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+resp.AccessToken)

	// Self logout-all is always allowed.
	self := doJSON(t, handler, http.MethodPost, "/v1/auth/logout_all", map[string]string{}, header)
	if self.Code != http.StatusOK {
		t.Fatalf("expected 200 for self logout_all, got %d: %s", self.Code, self.Body.String())
	}

	// Targeting another user requires admin.
	other := doJSON(t, handler, http.MethodPost, "/v1/auth/logout_all",
		map[string]string{"user_id": uuid.NewString()}, header)
	if other.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-user logout_all, got %d", other.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	api, _, _ := newTestAPI(t)
	handler := api.Handler()

	rr := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}
