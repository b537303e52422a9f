package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admincore/userd/internal/logging"
	"github.com/admincore/userd/internal/server/auth"
	"github.com/admincore/userd/internal/server/eventstore"
	"github.com/admincore/userd/internal/server/projection"
	"github.com/admincore/userd/internal/server/readmodel"
	"github.com/admincore/userd/internal/server/users"
)

var testSecret = []byte("test-secret")

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store := eventstore.NewMemoryStore()
	repo := readmodel.NewMemoryRepository()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	proj := projection.NewProjector(store, repo, eventstore.NewUserRegistry(), logger)
	store.SetProjector(proj)

	svc := users.NewService(store, repo, logger)
	return NewHandler(svc, testSecret, logger)
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	token, err := auth.GenerateToken(uuid.NewString(), "admin", testSecret, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func createUserRequestBody() map[string]string {
	return map[string]string{
		"username":        "a@example.com",
		"role":            "member",
		"auth_identifier": "a@example.com",
		"auth_type":       "email",
		"auth_secret":     "secret1",
	}
}

func createTestUser(t *testing.T, h *Handler) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/admin/users", createUserRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])
	return resp["id"]
}

func TestHandler_Health_NoTokenRequired(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Auth_MissingToken(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Auth_ExpiredToken(t *testing.T) {
	h := newTestHandler(t)

	token, err := auth.GenerateToken("u1", "admin", testSecret, -time.Second)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_CreateAndGetUser(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)

	rec := doRequest(t, h, http.MethodGet, "/api/admin/users/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view users.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "a@example.com", view.Username)
	assert.Equal(t, "member", view.Role)
	assert.True(t, view.IsActive)
	require.Len(t, view.AuthMethods, 1)
}

func TestHandler_CreateUser_InvalidRole(t *testing.T) {
	h := newTestHandler(t)

	body := createUserRequestBody()
	body["role"] = "superuser"
	rec := doRequest(t, h, http.MethodPost, "/api/admin/users", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_input", resp.Code)
}

func TestHandler_CreateUser_MalformedBody(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/users", bytes.NewBufferString("{broken"))
	token, err := auth.GenerateToken("u1", "admin", testSecret, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetUser_NotFound(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/admin/users/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetUser_BadID(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/admin/users/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_UpdateRole(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)

	rec := doRequest(t, h, http.MethodPut, "/api/admin/users/"+id, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/admin/users/"+id, nil)
	var view users.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "admin", view.Role)
}

func TestHandler_UpdateProfileAndStatus(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)

	rec := doRequest(t, h, http.MethodPatch, "/api/admin/users/"+id+"/profile", map[string]string{"display_name": "Alice"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodPatch, "/api/admin/users/"+id+"/status", map[string]bool{"active": false})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/admin/users/"+id, nil)
	var view users.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Alice", view.DisplayName)
	assert.False(t, view.IsActive)
}

func TestHandler_AuthMethodLifecycle(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)
	base := "/api/admin/users/" + id + "/auth-methods"

	rec := doRequest(t, h, http.MethodPost, base, map[string]string{"identifier": "+37100000000", "type": "phone"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodPatch, base+"/a@example.com", map[string]string{"secret": "secret2"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, base+"/a@example.com", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/admin/users/"+id, nil)
	var view users.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.AuthMethods, 1)
	assert.Equal(t, "phone", view.AuthMethods[0].Type)
}

func TestHandler_RemoveLastAuthMethod_Conflict(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)

	rec := doRequest(t, h, http.MethodDelete, "/api/admin/users/"+id+"/auth-methods/a@example.com", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conflict", resp.Code)
}

func TestHandler_RecordLogin(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/admin/users/"+id+"/last-login", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/admin/users/"+id, nil)
	var view users.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.NotNil(t, view.LastLoginAt)
}

func TestHandler_DeleteUser(t *testing.T) {
	h := newTestHandler(t)
	id := createTestUser(t, h)

	rec := doRequest(t, h, http.MethodDelete, "/api/admin/users/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// further mutation is a 409 with the deletion code
	rec = doRequest(t, h, http.MethodPut, "/api/admin/users/"+id, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user_deleted", resp.Code)
}

func TestHandler_ListUsers(t *testing.T) {
	h := newTestHandler(t)
	for i := 0; i < 3; i++ {
		body := createUserRequestBody()
		body["username"] = fmt.Sprintf("user%d@example.com", i)
		body["auth_identifier"] = body["username"]
		rec := doRequest(t, h, http.MethodPost, "/api/admin/users", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/admin/users?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list users.UserList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Users, 2)
	assert.Equal(t, 2, list.PageSize)
}

// erroringService returns a fixed error from every command.
type erroringService struct {
	UserService
	err error
}

func (s *erroringService) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return s.err
}

func TestHandler_ErrorMapping(t *testing.T) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"concurrency conflict", eventstore.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict"},
		{"projection failed", eventstore.ErrProjectionFailed, http.StatusInternalServerError, "projection_failed"},
		{"storage failure", eventstore.ErrStorage, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&erroringService{err: tt.err}, testSecret, logger)

			rec := doRequest(t, h, http.MethodPut, "/api/admin/users/"+uuid.NewString(), map[string]string{"role": "admin"})
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}
