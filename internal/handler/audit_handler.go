package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/akz4ol/toolsgateway/internal/audit"
	"github.com/akz4ol/toolsgateway/internal/domain"
)

// AuditHandler serves the admin audit-log query, search, export, and
// stats surface over an in-memory audit.Logger.
type AuditHandler struct {
	logger *audit.Logger
}

func NewAuditHandler(logger *audit.Logger) *AuditHandler {
	return &AuditHandler{logger: logger}
}

// List retrieves audit logs with filtering, most recent first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page := h.logger.GetLogs(parseAuditFilter(r))
	WriteSuccess(w, page)
}

// Search performs a case-insensitive substring search across the log.
func (h *AuditHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page := h.logger.Search(query, parseAuditFilter(r))
	WriteSuccess(w, page)
}

// Export renders the filtered log as JSON or CSV.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportJSON
	}

	data, err := h.logger.Export(parseAuditFilter(r), format)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "export_failed", "failed to export audit log")
		return
	}

	if format == audit.ExportCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", "attachment; filename=audit-log."+string(format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Stats summarizes the audit log for the admin dashboard.
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.logger.GetStats())
}

func parseAuditFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()

	filter := audit.Filter{UserID: q.Get("user_id")}

	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, domain.AuditAction(a))
	}
	for _, o := range q["outcome"] {
		filter.Outcomes = append(filter.Outcomes, domain.AuditOutcome(o))
	}
	if start := q.Get("start_time"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filter.StartTime = &t
		}
	}
	if end := q.Get("end_time"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filter.EndTime = &t
		}
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}
	return filter
}
