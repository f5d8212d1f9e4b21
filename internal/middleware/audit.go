package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// AuditLogger defines the interface for audit logging.
type AuditLogger interface {
	Log(ctx context.Context, entry domain.AuditLog)
}

type auditResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *auditResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *auditResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Audit returns middleware that records admin-surface mutations (role
// and user CRUD) to the audit log. Read-only and MCP-call auditing is
// handled by the call sites that already have the richer context
// (tool name, RBAC decision) a generic path-based sniff can't recover.
func Audit(logger AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, resourceID := determineAction(r)
			if action == "" {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &auditResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			info := GetAuthInfo(r.Context())
			entry := domain.AuditLog{
				Action:    action,
				Outcome:   determineOutcome(wrapped.statusCode),
				IPAddress: r.RemoteAddr,
				CreatedAt: time.Now(),
			}
			if resourceID != "" {
				entry.Details = map[string]interface{}{"resource_id": resourceID}
			}
			if info != nil {
				entry.UserID = info.UserID
				entry.UserEmail = info.Email
			}

			logger.Log(r.Context(), entry)
		})
	}
}

func determineAction(r *http.Request) (domain.AuditAction, string) {
	path := r.URL.Path

	if strings.Contains(path, "/roles") {
		roleID := chi.URLParam(r, "roleID")
		switch r.Method {
		case http.MethodPost:
			return domain.AuditRoleCreated, ""
		case http.MethodPut, http.MethodPatch:
			return domain.AuditRoleUpdated, roleID
		case http.MethodDelete:
			return domain.AuditRoleDeleted, roleID
		}
	}

	if strings.Contains(path, "/users") && r.Method == http.MethodDelete {
		return domain.AuditUserDeleted, chi.URLParam(r, "userID")
	}

	return "", ""
}

func determineOutcome(statusCode int) domain.AuditOutcome {
	if statusCode >= 200 && statusCode < 300 {
		return domain.AuditOutcomeSuccess
	}
	return domain.AuditOutcomeFailure
}
