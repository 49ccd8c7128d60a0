package portal

import (
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/shared"
)

const exportLimit = 1000

type auditFilter struct {
	EventType backend.AuditEventType
	ActorID   string
	TargetID  string
}

type auditPageData struct {
	Logs       []backend.AuditLog
	Filter     auditFilter
	EventTypes []backend.AuditEventType
	ExportURL  string
	PrevURL    string
	NextURL    string
}

func parseAuditFilter(q url.Values) auditFilter {
	return auditFilter{
		EventType: backend.AuditEventType(strings.TrimSpace(q.Get("event_type"))),
		ActorID:   strings.TrimSpace(q.Get("actor_id")),
		TargetID:  strings.TrimSpace(q.Get("target_id")),
	}
}

func (f auditFilter) query(limit, offset int) backend.AuditQuery {
	return backend.AuditQuery{
		Limit:     limit,
		Offset:    offset,
		EventType: f.EventType,
		ActorID:   f.ActorID,
		TargetID:  f.TargetID,
	}
}

func (h *Handler) auditLogs(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := parseAuditFilter(q)
	page := shared.PageFromQuery(q)
	offset := (page - 1) * h.pageSize

	logs, err := ws.Client.AuditLogs(r.Context(), filter.query(h.pageSize, offset))
	if err != nil {
		h.backendFailure(w, r, ws, err)
		return
	}

	exportQuery := url.Values{}
	for k, v := range q {
		if k != shared.PageParam {
			exportQuery[k] = v
		}
	}
	data := auditPageData{
		Logs:       logs,
		Filter:     filter,
		EventTypes: backend.AuditEventTypes(),
		ExportURL:  (&url.URL{Path: "/admin/audit-logs/export", RawQuery: exportQuery.Encode()}).String(),
	}
	if page > 1 {
		data.PrevURL = shared.PageURL(r.URL, page-1)
	}
	if len(logs) == h.pageSize {
		data.NextURL = shared.PageURL(r.URL, page+1)
	}
	h.render(w, r, http.StatusOK, "pages/audit_logs.html", "Audit Logs", data)
}

func (h *Handler) exportAuditLogs(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	if !ws.Evaluator().CanExportAuditLogs() {
		http.Redirect(w, r, guard.UnauthorizedRoute, http.StatusSeeOther)
		return
	}
	logs, err := ws.Client.AuditLogs(r.Context(), parseAuditFilter(r.URL.Query()).query(exportLimit, 0))
	if err != nil {
		h.backendFailure(w, r, ws, err)
		return
	}

	name := "audit-logs-" + time.Now().UTC().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := writeAuditCSV(w, logs); err != nil {
		h.logger.Error("export audit logs", slog.Any("error", err))
	}
}

func writeAuditCSV(w io.Writer, logs []backend.AuditLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "event", "actor", "target", "changes", "reason"}); err != nil {
		return err
	}
	for _, l := range logs {
		record := []string{
			l.Timestamp.UTC().Format(time.RFC3339),
			l.EventType.Label(),
			l.ActorEmail,
			l.TargetEmail,
			l.ChangeSummary(),
			l.Reason,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
