package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ezbot/ezbot/internal/auth"
	"github.com/ezbot/ezbot/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminService is the slice of *core.ChatService the admin routes need.
type AdminService interface {
	UserRole(ctx context.Context, tgID int64) (string, bool, error)
	UserProfile(ctx context.Context, tgID int64) (*store.User, error)
	GrantUserRole(ctx context.Context, tgID int64) error
	ResetHistoryFor(ctx context.Context, username string) error
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type subjectKey struct{}

type APIHandler struct {
	admin     AdminService
	checks    map[string]Pinger
	jwtSecret string
	logger    *zap.Logger
}

// NewAPIHandler builds the handlers. checks are named health probes, for
// example "identity_store" and "history_store".
func NewAPIHandler(admin AdminService, checks map[string]Pinger, jwtSecret string, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		admin:     admin,
		checks:    checks,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			h.logger.Info("Rejected admin token", zap.Error(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey{}, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

type RoleResponse struct {
	TgID int64  `json:"tg_id"`
	Role string `json:"role"`
}

func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	tgID, ok := parseTgID(w, r)
	if !ok {
		return
	}

	user, err := h.admin.UserProfile(r.Context(), tgID)
	if err != nil {
		h.logger.Error("Error getting user", zap.Int64("tg_id", tgID), zap.Error(err))
		http.Error(w, "Failed to get user", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) GetUserRoleHandler(w http.ResponseWriter, r *http.Request) {
	tgID, ok := parseTgID(w, r)
	if !ok {
		return
	}

	role, found, err := h.admin.UserRole(r.Context(), tgID)
	if err != nil {
		h.logger.Error("Error getting user role", zap.Int64("tg_id", tgID), zap.Error(err))
		http.Error(w, "Failed to get user role", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, RoleResponse{TgID: tgID, Role: role})
}

func (h *APIHandler) PromoteUserHandler(w http.ResponseWriter, r *http.Request) {
	tgID, ok := parseTgID(w, r)
	if !ok {
		return
	}

	if err := h.admin.GrantUserRole(r.Context(), tgID); err != nil {
		h.logger.Error("Error promoting user", zap.Int64("tg_id", tgID), zap.Error(err))
		http.Error(w, "Failed to promote user", http.StatusInternalServerError)
		return
	}
	h.logger.Info("User promoted via admin API",
		zap.Int64("tg_id", tgID),
		zap.String("admin", subjectFrom(r.Context())))

	role, _, err := h.admin.UserRole(r.Context(), tgID)
	if err != nil {
		h.logger.Error("Error reading promoted role", zap.Int64("tg_id", tgID), zap.Error(err))
		http.Error(w, "Failed to get user role", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, RoleResponse{TgID: tgID, Role: role})
}

func (h *APIHandler) ResetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	if err := h.admin.ResetHistoryFor(r.Context(), username); err != nil {
		h.logger.Error("Error resetting history", zap.String("username", username), zap.Error(err))
		http.Error(w, "Failed to reset history", http.StatusInternalServerError)
		return
	}
	h.logger.Info("History reset via admin API",
		zap.String("username", username),
		zap.String("admin", subjectFrom(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func parseTgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	tgID, err := strconv.ParseInt(chi.URLParam(r, "tgID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid telegram id", http.StatusBadRequest)
		return 0, false
	}
	return tgID, true
}

func subjectFrom(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
