package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/events"
	"github.com/ignite/dasher-monitor/internal/mailapi"
	"github.com/ignite/dasher-monitor/internal/pkg/httputil"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
	"github.com/ignite/dasher-monitor/internal/repository"
	"github.com/ignite/dasher-monitor/internal/scanner"
)

const defaultKeepalive = 30 * time.Second

// ScanController is the slice of the scanner the API consumes.
type ScanController interface {
	Start(ctx context.Context) (string, error)
	Reconcile(ctx context.Context) (*scanner.SyncResult, error)
}

// MailBrowser is the slice of the mail client behind the proxy routes.
type MailBrowser interface {
	FindAccountByEmail(ctx context.Context, email string) (*mailapi.Account, error)
	ListMailboxes(ctx context.Context, accountID string) ([]mailapi.Mailbox, error)
	ListMessages(ctx context.Context, accountID, mailboxID string, page, perPage int) (*mailapi.MessagePage, error)
	GetMessage(ctx context.Context, accountID, mailboxID, messageID string) (*domain.EmailMessage, error)
	GetAttachment(ctx context.Context, accountID, mailboxID, messageID, attachmentID string) (*mailapi.Attachment, error)
}

// Deps bundles the handlers' collaborators.
type Deps struct {
	DB              *sql.DB
	Inboxes         repository.Inboxes
	Classifications repository.Classifications
	Alerts          repository.Alerts
	ScanLogs        repository.ScanLogs
	Scanner         ScanController
	Mail            MailBrowser
	Bus             *events.Bus

	// BaseCtx is the process-lifetime context. Background scans started
	// over HTTP and open SSE streams end with it, not with the request.
	BaseCtx context.Context

	// AuthMiddleware, when non-nil, wraps every /api route. The
	// external auth layer plugs in here.
	AuthMiddleware func(http.Handler) http.Handler
}

// Handlers carries the route implementations.
type Handlers struct {
	db        *sql.DB
	inboxes   repository.Inboxes
	analyses  repository.Classifications
	alerts    repository.Alerts
	scans     repository.ScanLogs
	scanner   ScanController
	mail      MailBrowser
	bus       *events.Bus
	baseCtx   context.Context
	keepalive time.Duration
	log       *logger.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(deps Deps) *Handlers {
	baseCtx := deps.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handlers{
		db:        deps.DB,
		inboxes:   deps.Inboxes,
		analyses:  deps.Classifications,
		alerts:    deps.Alerts,
		scans:     deps.ScanLogs,
		scanner:   deps.Scanner,
		mail:      deps.Mail,
		bus:       deps.Bus,
		baseCtx:   baseCtx,
		keepalive: defaultKeepalive,
		log:       logger.With("api"),
	}
}

// Health reports process liveness plus database reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
		} else {
			status["database"] = "ok"
		}
	}
	if h.bus != nil {
		admin, portal := h.bus.SubscriberCounts()
		status["subscribers"] = map[string]int{"admin": admin, "portal": portal}
	}
	httputil.OK(w, status)
}

// StartScan kicks off a fleet scan; 409 when one is already running.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	scanID, err := h.scanner.Start(h.baseCtx)
	if errors.Is(err, scanner.ErrScanRunning) {
		httputil.Conflict(w, "scan already running")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{
		"scan_id": scanID,
		"status":  string(domain.ScanRunning),
	})
}

// GetScan returns one scan-log row.
func (h *Handlers) GetScan(w http.ResponseWriter, r *http.Request) {
	scanLog, err := h.scans.Get(r.Context(), chi.URLParam(r, "scanID"))
	if errors.Is(err, repository.ErrNotFound) {
		httputil.NotFound(w, "scan not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, scanLog)
}

// SyncAccounts runs reconciliation only: new provider inboxes are
// bootstrapped without sweeping the fleet.
func (h *Handlers) SyncAccounts(w http.ResponseWriter, r *http.Request) {
	res, err := h.scanner.Reconcile(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// DashboardStats returns per-stage fleet counts and the latest scan.
func (h *Handlers) DashboardStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.inboxes.StageCounts(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	total := 0
	byStage := make(map[string]int, len(domain.AllStages))
	for _, s := range domain.AllStages {
		byStage[string(s)] = counts[s]
		total += counts[s]
	}

	out := map[string]interface{}{
		"total_accounts": total,
		"by_stage":       byStage,
	}
	if latest, err := h.scans.Latest(r.Context(), 1); err == nil && len(latest) > 0 {
		out["last_scan"] = latest[0]
	}
	httputil.OK(w, out)
}

// DashboardAccounts lists the fleet with stage/search filters and
// page/per_page paging.
func (h *Handlers) DashboardAccounts(w http.ResponseWriter, r *http.Request) {
	var stageFilter domain.Stage
	if raw := r.URL.Query().Get("stage"); raw != "" {
		s, err := domain.ParseStage(strings.ToUpper(raw))
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		stageFilter = s
	}
	search := strings.ToLower(r.URL.Query().Get("search"))
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 25)
	if perPage > 100 {
		perPage = 100
	}

	fleet, err := h.inboxes.List(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}

	filtered := fleet[:0:0]
	for _, in := range fleet {
		if stageFilter != "" && in.Stage != stageFilter {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(in.Email), search) &&
			!strings.Contains(strings.ToLower(in.Name), search) {
			continue
		}
		filtered = append(filtered, in)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Email < filtered[j].Email })

	total := len(filtered)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := min(start+perPage, total)

	httputil.OK(w, map[string]interface{}{
		"accounts": filtered[start:end],
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// DashboardAccount returns one inbox with its stage history.
func (h *Handlers) DashboardAccount(w http.ResponseWriter, r *http.Request) {
	inbox, err := h.inboxes.FindByEmail(r.Context(), chi.URLParam(r, "email"))
	if errors.Is(err, repository.ErrNotFound) {
		httputil.NotFound(w, "account not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	history, err := h.inboxes.StageHistory(r.Context(), inbox.ID)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"account":       inbox,
		"stage_history": history,
	})
}

// UpdateNotes replaces an inbox's operator notes.
func (h *Handlers) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes *string `json:"notes"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Notes == nil {
		httputil.BadRequest(w, "notes is required")
		return
	}

	inbox, err := h.inboxes.FindByEmail(r.Context(), chi.URLParam(r, "email"))
	if errors.Is(err, repository.ErrNotFound) {
		httputil.NotFound(w, "account not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if err := h.inboxes.UpdateNotes(r.Context(), inbox.ID, *body.Notes); err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "updated"})
}

// AnalysisStats aggregates the classification table.
func (h *Handlers) AnalysisStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analyses.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, stats)
}

// ReviewQueue lists classifications routed to manual review.
func (h *Handlers) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	rows, err := h.analyses.ReviewQueue(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"analyses": rows, "count": len(rows)})
}

// AccountAnalyses lists one inbox's classifications, optionally
// filtered by category.
func (h *Handlers) AccountAnalyses(w http.ResponseWriter, r *http.Request) {
	rows, err := h.analyses.ListByInbox(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := rows[:0:0]
		for _, c := range rows {
			if string(c.Category) == category {
				filtered = append(filtered, c)
			}
		}
		rows = filtered
	}
	httputil.OK(w, map[string]interface{}{"analyses": rows, "count": len(rows)})
}

var validUrgencies = map[string]bool{
	string(domain.UrgencyInfo): true, string(domain.UrgencyLow): true,
	string(domain.UrgencyMedium): true, string(domain.UrgencyHigh): true,
	string(domain.UrgencyWarning): true, string(domain.UrgencyCritical): true,
}

// ReviewAnalysis applies an operator reclassification. The row always
// becomes source=manual at confidence 1.0.
func (h *Handlers) ReviewAnalysis(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category       *string `json:"category"`
		SubCategory    *string `json:"sub_category"`
		Summary        *string `json:"summary"`
		Urgency        *string `json:"urgency"`
		ActionRequired *bool   `json:"action_required"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Urgency != nil && !validUrgencies[*body.Urgency] {
		httputil.BadRequest(w, "invalid urgency")
		return
	}

	row, err := h.analyses.Review(r.Context(), chi.URLParam(r, "analysisID"), repository.ReviewUpdate{
		Category:       body.Category,
		SubCategory:    body.SubCategory,
		Summary:        body.Summary,
		Urgency:        body.Urgency,
		ActionRequired: body.ActionRequired,
	})
	if errors.Is(err, repository.ErrNotFound) {
		httputil.NotFound(w, "analysis not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, row)
}

// ListAlerts returns the alert feed, newest first.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	f := repository.AlertFilter{
		UnreadOnly: r.URL.Query().Get("unread_only") == "true",
		Severity:   r.URL.Query().Get("severity"),
		InboxID:    r.URL.Query().Get("account_id"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	rows, total, err := h.alerts.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"alerts": rows, "total": total})
}

// MarkAlertRead flags one alert as read.
func (h *Handlers) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	err := h.alerts.MarkRead(r.Context(), chi.URLParam(r, "alertID"), readerID(r), time.Now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		httputil.NotFound(w, "alert not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "read"})
}

// MarkAllAlertsRead flags every unread alert.
func (h *Handlers) MarkAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.alerts.MarkAllRead(r.Context(), readerID(r), time.Now().UTC())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"status": "read", "count": n})
}

// readerID identifies the operator marking alerts read. The external
// auth layer forwards it; absent that, the record says "admin".
func readerID(r *http.Request) string {
	if id := r.Header.Get("X-Operator-Id"); id != "" {
		return id
	}
	return "admin"
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
