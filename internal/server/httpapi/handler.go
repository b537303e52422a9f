// Package httpapi is the REST boundary of the admin service. Handlers stay
// thin: decode, call the service, map the error taxonomy to a status code.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/admincore/userd/internal/logging"
	"github.com/admincore/userd/internal/server/eventstore"
	"github.com/admincore/userd/internal/server/user"
	"github.com/admincore/userd/internal/server/users"
)

// UserService is the slice of the application layer the handlers need.
type UserService interface {
	CreateUser(ctx context.Context, params users.CreateUserParams) (uuid.UUID, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName string) error
	AddAuthMethod(ctx context.Context, id uuid.UUID, identifier, typeName, secret string) error
	UpdateAuthMethod(ctx context.Context, id uuid.UUID, identifier, newSecret string) error
	RemoveAuthMethod(ctx context.Context, id uuid.UUID, identifier string) error
	SetActivation(ctx context.Context, id uuid.UUID, active bool) error
	RecordLogin(ctx context.Context, id uuid.UUID) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	GetUser(ctx context.Context, id uuid.UUID) (*users.UserView, error)
	ListUsers(ctx context.Context, page, pageSize int, includeDeleted bool) (*users.UserList, error)
}

// Handler serves the admin REST API.
type Handler struct {
	service   UserService
	secretKey []byte
	logger    logging.Logger
}

func NewHandler(service UserService, secretKey []byte, logger logging.Logger) *Handler {
	return &Handler{service: service, secretKey: secretKey, logger: logger}
}

// Router builds the full route table. Everything under /api/admin requires a
// bearer token; /healthz does not.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/admin").Subrouter()
	api.Use(h.authMiddleware)

	api.HandleFunc("/users", h.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users", h.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.handleUpdateRole).Methods(http.MethodPut)
	api.HandleFunc("/users/{id}", h.handleDeleteUser).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id}/profile", h.handleUpdateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/status", h.handleSetStatus).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/auth-methods", h.handleAddAuthMethod).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/auth-methods/{identifier}", h.handleUpdateAuthMethod).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/auth-methods/{identifier}", h.handleRemoveAuthMethod).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id}/last-login", h.handleRecordLogin).Methods(http.MethodPost)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createUserRequest struct {
	Username       string `json:"username"`
	Role           string `json:"role"`
	AuthIdentifier string `json:"auth_identifier"`
	AuthType       string `json:"auth_type"`
	AuthSecret     string `json:"auth_secret"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.service.CreateUser(r.Context(), users.CreateUserParams{
		Username:       req.Username,
		Role:           req.Role,
		AuthIdentifier: req.AuthIdentifier,
		AuthType:       req.AuthType,
		AuthSecret:     req.AuthSecret,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	includeDeleted, _ := strconv.ParseBool(q.Get("include_deleted"))

	list, err := h.service.ListUsers(r.Context(), page, pageSize, includeDeleted)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, h.service.UpdateRole(r.Context(), id, req.Role))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, h.service.UpdateProfile(r.Context(), id, req.DisplayName))
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, h.service.SetActivation(r.Context(), id, req.Active))
}

func (h *Handler) handleAddAuthMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Identifier string `json:"identifier"`
		Type       string `json:"type"`
		Secret     string `json:"secret"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, h.service.AddAuthMethod(r.Context(), id, req.Identifier, req.Type, req.Secret))
}

func (h *Handler) handleUpdateAuthMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	identifier := mux.Vars(r)["identifier"]
	var req struct {
		Secret string `json:"secret"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, h.service.UpdateAuthMethod(r.Context(), id, identifier, req.Secret))
}

func (h *Handler) handleRemoveAuthMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	identifier := mux.Vars(r)["identifier"]
	h.respond(w, r, h.service.RemoveAuthMethod(r.Context(), id, identifier))
}

func (h *Handler) handleRecordLogin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	h.respond(w, r, h.service.RecordLogin(r.Context(), id))
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	h.respond(w, r, h.service.DeleteUser(r.Context(), id))
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_input", "invalid user id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps the error taxonomy onto HTTP statuses. Concurrency
// conflicts share 409 with business conflicts but carry their own code so
// clients know a reload-and-retry may succeed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, user.ErrInvalidInput):
		writeErrorBody(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, user.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, user.ErrAlreadyDeleted), errors.Is(err, user.ErrUserDeleted):
		writeErrorBody(w, http.StatusConflict, "user_deleted", err.Error())
	case errors.Is(err, user.ErrConflict):
		writeErrorBody(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		writeErrorBody(w, http.StatusConflict, "concurrency_conflict", "the user was modified concurrently, reload and retry")
	case errors.Is(err, eventstore.ErrProjectionFailed):
		h.logger.Error(r.Context(), "request failed after durable append", "path", r.URL.Path, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "projection_failed", "the change was recorded but the read model is stale")
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeErrorBody(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
