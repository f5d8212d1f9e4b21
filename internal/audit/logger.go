// Package audit records security-relevant events (logins, role
// mutations, access denials) to an in-memory ring buffer and to the
// structured logger, and serves the admin audit-log query surface.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akz4ol/toolsgateway/internal/domain"
)

// Logger is an in-memory audit log with a bounded ring buffer, backed
// by a structured-logging mirror so entries survive a restart in the
// log stream even though the in-memory buffer does not.
type Logger struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	logs    []domain.AuditLog
	maxLogs int

	// onLog, if set, is called with every recorded entry, letting a
	// transport-layer subscriber (the admin status feed) react without
	// this package depending on it.
	onLog func(domain.AuditLog)
}

// OnLog registers fn to be called with every entry recorded via Log.
func (l *Logger) OnLog(fn func(domain.AuditLog)) {
	l.onLog = fn
}

func NewLogger(logger zerolog.Logger) *Logger {
	l := &Logger{
		logger:  logger,
		logs:    make([]domain.AuditLog, 0),
		maxLogs: 10000,
	}
	logger.Info().Msg("audit logging initialized")
	return l
}

// Log records entry, assigning it an id and timestamp if unset.
func (l *Logger) Log(ctx context.Context, entry domain.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	l.mu.Lock()
	if len(l.logs) >= l.maxLogs {
		l.logs = l.logs[1:]
	}
	l.logs = append(l.logs, entry)
	l.mu.Unlock()

	evt := l.logger.Info().
		Str("audit_id", entry.ID).
		Str("action", string(entry.Action)).
		Str("outcome", string(entry.Outcome))
	if entry.UserID != "" {
		evt = evt.Str("user_id", entry.UserID)
	}
	if entry.UserEmail != "" {
		evt = evt.Str("user_email", entry.UserEmail)
	}
	if entry.IPAddress != "" {
		evt = evt.Str("ip_address", entry.IPAddress)
	}
	evt.Msg("audit event")

	if l.onLog != nil {
		l.onLog(entry)
	}
}

// Filter narrows a GetLogs/Search query.
type Filter struct {
	Actions   []domain.AuditAction
	Outcomes  []domain.AuditOutcome
	UserID    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Page is a filtered, paginated slice of the log, most recent first.
type Page struct {
	Logs    []domain.AuditLog `json:"logs"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
}

// GetLogs returns log entries matching filter, most recent first.
func (l *Logger) GetLogs(filter Filter) Page {
	l.mu.RLock()
	defer l.mu.RUnlock()

	filtered := make([]domain.AuditLog, 0)
	for _, entry := range l.logs {
		if l.matchesFilter(entry, filter) {
			filtered = append(filtered, entry)
		}
	}
	return paginate(filtered, filter)
}

// Search performs a case-insensitive substring search across action,
// user email, ip address, and details, in addition to filter.
func (l *Logger) Search(query string, filter Filter) Page {
	query = strings.ToLower(query)

	l.mu.RLock()
	defer l.mu.RUnlock()

	filtered := make([]domain.AuditLog, 0)
	for _, entry := range l.logs {
		if !l.matchesFilter(entry, filter) {
			continue
		}
		if !matchesSearch(entry, query) {
			continue
		}
		filtered = append(filtered, entry)
	}
	return paginate(filtered, filter)
}

func paginate(logs []domain.AuditLog, filter Filter) Page {
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}

	total := int64(len(logs))
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	start := offset
	if start > len(logs) {
		start = len(logs)
	}
	end := start + limit
	if end > len(logs) {
		end = len(logs)
	}

	return Page{
		Logs:    logs[start:end],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: end < len(logs),
	}
}

func (l *Logger) matchesFilter(entry domain.AuditLog, filter Filter) bool {
	if len(filter.Actions) > 0 {
		found := false
		for _, a := range filter.Actions {
			if entry.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Outcomes) > 0 {
		found := false
		for _, o := range filter.Outcomes {
			if entry.Outcome == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.UserID != "" && entry.UserID != filter.UserID {
		return false
	}
	if filter.StartTime != nil && entry.CreatedAt.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.CreatedAt.After(*filter.EndTime) {
		return false
	}
	return true
}

func matchesSearch(entry domain.AuditLog, query string) bool {
	if strings.Contains(strings.ToLower(string(entry.Action)), query) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.UserEmail), query) {
		return true
	}
	if strings.Contains(entry.IPAddress, query) {
		return true
	}
	if entry.Details != nil {
		detailsJSON, _ := json.Marshal(entry.Details)
		if strings.Contains(strings.ToLower(string(detailsJSON)), query) {
			return true
		}
	}
	return false
}

// ExportFormat selects Export's output encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Export renders filter's matching entries in format.
func (l *Logger) Export(filter Filter, format ExportFormat) ([]byte, error) {
	page := l.GetLogs(filter)
	switch format {
	case ExportCSV:
		return exportCSV(page.Logs)
	default:
		return json.MarshalIndent(page.Logs, "", "  ")
	}
}

func exportCSV(logs []domain.AuditLog) ([]byte, error) {
	var buf strings.Builder
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "Timestamp", "Action", "Outcome", "UserID", "UserEmail", "IPAddress"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, entry := range logs {
		row := []string{
			entry.ID,
			entry.CreatedAt.Format(time.RFC3339),
			string(entry.Action),
			string(entry.Outcome),
			entry.UserID,
			entry.UserEmail,
			entry.IPAddress,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return []byte(buf.String()), writer.Error()
}

// Stats summarizes the in-memory log for the admin dashboard.
type Stats struct {
	TotalLogs int64            `json:"total_logs"`
	TodayLogs int64            `json:"today_logs"`
	ByAction  map[string]int64 `json:"by_action"`
	ByOutcome map[string]int64 `json:"by_outcome"`
}

func (l *Logger) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		ByAction:  make(map[string]int64),
		ByOutcome: make(map[string]int64),
	}
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, entry := range l.logs {
		stats.TotalLogs++
		stats.ByAction[string(entry.Action)]++
		stats.ByOutcome[string(entry.Outcome)]++
		if entry.CreatedAt.After(today) {
			stats.TodayLogs++
		}
	}
	return stats
}
