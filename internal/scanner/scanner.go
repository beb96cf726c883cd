// Package scanner is the fleet orchestrator: it reconciles the tracked
// inboxes against the mail provider, sweeps the fleet in bounded
// parallel batches, promotes lifecycle stages, raises operator alerts
// and feeds recent messages into the classification pipeline.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/dasher-monitor/internal/alerttext"
	"github.com/ignite/dasher-monitor/internal/classify"
	"github.com/ignite/dasher-monitor/internal/config"
	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/mailapi"
	"github.com/ignite/dasher-monitor/internal/pkg/distlock"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
	"github.com/ignite/dasher-monitor/internal/repository"
	"github.com/ignite/dasher-monitor/internal/stage"
)

// ErrScanRunning is returned by Start when the fleet-wide scan lock is
// already held.
var ErrScanRunning = errors.New("scan already running")

// targetMailboxes are the provider folders the per-inbox job reads, in
// the provider's spelling. Any subset that exists is scanned.
var targetMailboxes = []string{"INBOX", "Trash", "Junk"}

// MailClient is the slice of the provider client the scanner consumes.
type MailClient interface {
	ListAccounts(ctx context.Context) ([]mailapi.Account, error)
	UpdatePassword(ctx context.Context, accountID, password string) error
	ListMailboxes(ctx context.Context, accountID string) ([]mailapi.Mailbox, error)
	ListMessages(ctx context.Context, accountID, mailboxID string, page, perPage int) (*mailapi.MessagePage, error)
	ListAllHeaders(ctx context.Context, accountID string, mailboxIDs []string) ([]domain.EmailHeader, error)
	GetMessageByPath(ctx context.Context, path string) (*domain.EmailMessage, error)
}

// Classifier is the classification-pipeline contract.
type Classifier interface {
	ClassifyBatch(ctx context.Context, inboxID string, msgs []classify.Message, cache *classify.TemplateCache) ([]domain.Classification, error)
}

// Publisher is the event-bus contract.
type Publisher interface {
	Publish(inboxEmail string, ev domain.Event)
}

// Deps bundles the scanner's collaborators.
type Deps struct {
	Inboxes     repository.Inboxes
	Alerts      repository.Alerts
	ScanLogs    repository.ScanLogs
	PortalUsers repository.PortalUsers
	Mail        MailClient
	Pipeline    Classifier
	Bus         Publisher
	AlertText   *alerttext.Renderer

	// NewLock builds a fresh fleet-scan lock instance. Lock instances
	// carry per-holder ownership state, so each operation gets its own.
	NewLock func() distlock.DistLock
}

// Scanner sweeps the fleet. One scan runs at a time; the lock enforces
// that across processes when backed by Redis or Postgres.
type Scanner struct {
	inboxes  repository.Inboxes
	alerts   repository.Alerts
	scans    repository.ScanLogs
	portal   repository.PortalUsers
	mail     MailClient
	pipeline Classifier
	bus      Publisher
	text     *alerttext.Renderer
	newLock  func() distlock.DistLock

	batchSize      int
	classifyRecent int
	syncInterval   time.Duration
	lockTTL        time.Duration
	log            *logger.Logger
}

// New wires a scanner from its collaborators and configuration.
func New(deps Deps, cfg config.ScannerConfig) *Scanner {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	classifyRecent := cfg.ClassifyRecent
	if classifyRecent <= 0 {
		classifyRecent = 20
	}
	newLock := deps.NewLock
	if newLock == nil {
		shared := distlock.NewLocalLock()
		newLock = func() distlock.DistLock { return shared }
	}
	return &Scanner{
		inboxes:        deps.Inboxes,
		alerts:         deps.Alerts,
		scans:          deps.ScanLogs,
		portal:         deps.PortalUsers,
		mail:           deps.Mail,
		pipeline:       deps.Pipeline,
		bus:            deps.Bus,
		text:           deps.AlertText,
		newLock:        newLock,
		batchSize:      batchSize,
		classifyRecent: classifyRecent,
		syncInterval:   cfg.SyncInterval(),
		lockTTL:        cfg.LockTTL(),
		log:            logger.With("scanner"),
	}
}

// Start launches a fleet scan in the background and returns its scan-log
// id. ctx must outlive the scan (pass the process context, not a request
// context). Returns ErrScanRunning when another scan holds the lock.
func (s *Scanner) Start(ctx context.Context) (string, error) {
	lock := s.newLock()
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring scan lock: %w", err)
	}
	if !ok {
		return "", ErrScanRunning
	}

	scanLog := &domain.ScanLog{
		ID:        uuid.New().String(),
		Status:    domain.ScanRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.scans.Insert(ctx, scanLog); err != nil {
		_ = lock.Release(ctx)
		return "", fmt.Errorf("recording scan log: %w", err)
	}

	go func() {
		defer func() { _ = lock.Release(context.Background()) }()
		s.run(ctx, scanLog.ID, lock)
	}()
	return scanLog.ID, nil
}

// scanError is one per-inbox failure, persisted in the scan log's
// error_details column.
type scanError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// run executes one full fleet sweep. Per-inbox failures are counted and
// recorded; only a panic or a failure to enumerate the fleet marks the
// whole scan failed.
func (s *Scanner) run(ctx context.Context, scanID string, lock distlock.DistLock) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan panicked", "scan_id", scanID, "panic", fmt.Sprint(r))
			s.finishScan(scanID, domain.ScanFailed, []scanError{{Error: fmt.Sprintf("panic: %v\n%s", r, debug.Stack())}})
		}
	}()

	startedAt := time.Now().UTC()
	s.log.Info("scan started", "scan_id", scanID)

	var errDetails []scanError
	if _, err := s.Reconcile(ctx); err != nil {
		// The sweep still covers every inbox we already track.
		s.log.Error("reconciliation failed, scanning known fleet", "scan_id", scanID, "error", err.Error())
		errDetails = append(errDetails, scanError{Error: "reconciliation: " + err.Error()})
	}

	fleet, err := s.inboxes.List(ctx)
	if errors.Is(err, repository.ErrTransient) {
		fleet, err = s.inboxes.List(ctx)
	}
	if err != nil {
		s.log.Error("listing fleet failed", "scan_id", scanID, "error", err.Error())
		s.finishScan(scanID, domain.ScanFailed, append(errDetails, scanError{Error: "listing fleet: " + err.Error()}))
		return
	}

	total := len(fleet)
	s.updateScan(scanID, repository.ScanLogUpdate{TotalAccounts: &total})

	// Template verdicts are shared across every inbox of this run and
	// discarded with it.
	cache := classify.NewTemplateCache()

	var scanned, errCount, transitions int
	for batchStart := 0; batchStart < len(fleet); batchStart += s.batchSize {
		if ctx.Err() != nil {
			s.finishScan(scanID, domain.ScanFailed, append(errDetails, scanError{Error: "cancelled: " + ctx.Err().Error()}))
			return
		}

		batch := fleet[batchStart:min(batchStart+s.batchSize, len(fleet))]
		jobErrs := make([]error, len(batch))
		promoted := make([]bool, len(batch))

		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						jobErrs[i] = fmt.Errorf("panic: %v", r)
					}
				}()
				promoted[i], jobErrs[i] = s.scanInbox(ctx, batch[i], cache, startedAt)
			}(i)
		}
		wg.Wait()

		for i := range batch {
			scanned++
			if promoted[i] {
				transitions++
			}
			if jobErrs[i] != nil {
				errCount++
				errDetails = append(errDetails, scanError{Email: batch[i].Email, Error: jobErrs[i].Error()})
			}
		}

		current := batch[len(batch)-1].Email
		s.updateScan(scanID, repository.ScanLogUpdate{
			Scanned:          &scanned,
			Errors:           &errCount,
			StageTransitions: &transitions,
			CurrentAccount:   &current,
		})
		if ext, ok := lock.(distlock.Extender); ok && s.lockTTL > 0 {
			if err := ext.Extend(ctx, s.lockTTL); err != nil {
				s.log.Warn("extending scan lock failed", "scan_id", scanID, "error", err.Error())
			}
		}
	}

	s.finishScan(scanID, domain.ScanCompleted, errDetails)
	stats := cache.Stats()
	s.log.Info("scan completed",
		"scan_id", scanID,
		"scanned", scanned,
		"errors", errCount,
		"transitions", transitions,
		"template_hits", stats.Hits,
		"template_misses", stats.Misses)
}

// scanInbox is the per-inbox job: fetch headers, detect the stage, write
// the promotion, then classify the most recent messages. A returned
// error has already been written to the inbox's scan_error.
func (s *Scanner) scanInbox(ctx context.Context, inbox domain.Inbox, cache *classify.TemplateCache, scanStart time.Time) (bool, error) {
	mailboxes, err := s.mail.ListMailboxes(ctx, inbox.ProviderID)
	if err != nil {
		return false, s.recordScanError(ctx, inbox, fmt.Errorf("listing mailboxes: %w", err))
	}
	var mailboxIDs []string
	for _, want := range targetMailboxes {
		for _, mb := range mailboxes {
			if strings.EqualFold(mb.Path, want) {
				mailboxIDs = append(mailboxIDs, mb.ID)
			}
		}
	}
	if len(mailboxIDs) == 0 {
		return false, s.touch(ctx, inbox)
	}

	headers, err := s.mail.ListAllHeaders(ctx, inbox.ProviderID, mailboxIDs)
	if err != nil {
		return false, s.recordScanError(ctx, inbox, fmt.Errorf("fetching headers: %w", err))
	}

	det := stage.Detect(headers)
	fetched := make(map[string]string, len(det.NeedsBodyCheck))
	for _, h := range det.NeedsBodyCheck {
		msg, err := s.mail.GetMessageByPath(ctx, h.Path)
		if err != nil {
			// The tentative BGC_CLEAR from the header pass stands.
			s.log.Warn("bgc body fetch failed", "account", inbox.ID, "message_id", h.ID, "error", err.Error())
			continue
		}
		fetched[h.ID] = msg.Body()
		st, conf := stage.BodyCheck(msg.Body())
		det.ApplyBodyCheck(st, conf, h)
	}

	s.publishNewMail(inbox, headers)

	promoted := false
	if domain.ShouldPromote(inbox.Stage, det.Stage, det.Reactivated) {
		err := s.inboxes.UpdateStage(ctx, inbox.ID, det.Stage, det.TriggerSubject, det.TriggerDate, det.Reactivated)
		switch {
		case err == nil:
			promoted = true
			s.emitStageChange(ctx, inbox, det)
		case errors.Is(err, repository.ErrConflict):
			// Lost the race against a concurrent promotion; the stored
			// stage already outranks ours.
			s.log.Info("stage promotion rejected by guard", "account", inbox.ID, "detected", string(det.Stage))
		default:
			return false, s.recordScanError(ctx, inbox, fmt.Errorf("writing promotion: %w", err))
		}
	}

	if err := s.touch(ctx, inbox); err != nil {
		return promoted, err
	}

	recent := mostRecent(headers, s.classifyRecent)
	msgs := make([]classify.Message, len(recent))
	for i, h := range recent {
		sender := h.Sender
		if sender == "" {
			sender = h.From
		}
		body, ok := fetched[h.ID]
		if !ok {
			body = h.BodyText
		}
		msgs[i] = classify.Message{ID: h.ID, Subject: h.Subject, Sender: sender, Body: body}
	}
	results, err := s.pipeline.ClassifyBatch(ctx, inbox.ID, msgs, cache)
	if err != nil {
		return promoted, s.recordScanError(ctx, inbox, fmt.Errorf("classifying recent messages: %w", err))
	}
	s.raiseCriticalAlerts(ctx, inbox, results, scanStart)

	return promoted, nil
}

// touch stamps last_scanned_at and clears any persisted scan error.
func (s *Scanner) touch(ctx context.Context, inbox domain.Inbox) error {
	if err := s.inboxes.UpdateScanState(ctx, inbox.ID, time.Now().UTC(), ""); err != nil {
		s.log.Error("updating scan state failed", "account", inbox.ID, "error", err.Error())
		return fmt.Errorf("updating scan state: %w", err)
	}
	return nil
}

// recordScanError persists the failure on the inbox row and passes the
// error back for the orchestrator's counters.
func (s *Scanner) recordScanError(ctx context.Context, inbox domain.Inbox, cause error) error {
	if err := s.inboxes.UpdateScanState(ctx, inbox.ID, time.Now().UTC(), cause.Error()); err != nil {
		s.log.Error("persisting scan error failed", "account", inbox.ID, "error", err.Error())
	}
	return cause
}

// publishNewMail emits new_email events for headers dated after the
// inbox's previous sweep. A never-scanned inbox emits nothing, so the
// first scan of a populated mailbox does not flood subscribers.
func (s *Scanner) publishNewMail(inbox domain.Inbox, headers []domain.EmailHeader) {
	if inbox.LastScannedAt == nil {
		return
	}
	for _, h := range headers {
		if h.Date == nil || !h.Date.After(*inbox.LastScannedAt) {
			continue
		}
		s.bus.Publish(inbox.Email, domain.NewEvent(domain.EventNewEmail, map[string]interface{}{
			"email":      inbox.Email,
			"message_id": h.ID,
			"subject":    h.Subject,
			"from":       h.From,
			"date":       h.Date.UTC().Format(time.RFC3339),
		}))
	}
}

// emitStageChange records the alert for a successful promotion and fans
// the change out to subscribers.
func (s *Scanner) emitStageChange(ctx context.Context, inbox domain.Inbox, det stage.Detection) {
	s.log.Info("stage promoted",
		"account", inbox.ID,
		"old_stage", string(inbox.Stage),
		"new_stage", string(det.Stage),
		"confidence", string(det.Confidence))

	title, message := s.text.StageAlert(inbox.Email, inbox.Stage, det.Stage, det.TriggerSubject)
	alert := &domain.Alert{
		InboxID:   inbox.ID,
		AlertType: domain.AlertTypeStageChange,
		Severity:  domain.StageAlertSeverity(det.Stage),
		Title:     title,
		Message:   message,
	}
	err := s.alerts.Insert(ctx, alert)
	if errors.Is(err, repository.ErrTransient) {
		err = s.alerts.Insert(ctx, alert)
	}
	if err != nil {
		s.log.Error("inserting stage alert failed", "account", inbox.ID, "error", err.Error())
	}

	s.bus.Publish(inbox.Email, domain.NewEvent(domain.EventStageChange, map[string]interface{}{
		"email":           inbox.Email,
		"old_stage":       string(inbox.Stage),
		"new_stage":       string(det.Stage),
		"confidence":      string(det.Confidence),
		"trigger_subject": det.TriggerSubject,
	}))
	s.bus.Publish(inbox.Email, domain.NewEvent(domain.EventAlert, alert))
}

// raiseCriticalAlerts alerts on critical classifications computed fresh
// in this scan. Rows served from the database cache or copied from the
// template cache keep replays alert-free.
func (s *Scanner) raiseCriticalAlerts(ctx context.Context, inbox domain.Inbox, results []domain.Classification, scanStart time.Time) {
	for _, c := range results {
		if c.Urgency != domain.UrgencyCritical {
			continue
		}
		if c.Source != domain.SourceRules && c.Source != domain.SourceAI {
			continue
		}
		if c.CreatedAt.Before(scanStart) {
			continue
		}
		title, message := s.text.CriticalEmailAlert(inbox.Email, c)
		alert := &domain.Alert{
			InboxID:   inbox.ID,
			AlertType: domain.AlertTypeCriticalEmail,
			Severity:  domain.SeverityCritical,
			Title:     title,
			Message:   message,
		}
		if err := s.alerts.Insert(ctx, alert); err != nil {
			s.log.Error("inserting critical alert failed", "account", inbox.ID, "message_id", c.MessageID, "error", err.Error())
			continue
		}
		s.bus.Publish(inbox.Email, domain.NewEvent(domain.EventAlert, alert))
	}
}

// mostRecent returns the n newest headers by date; undated headers sort
// last.
func mostRecent(headers []domain.EmailHeader, n int) []domain.EmailHeader {
	sorted := make([]domain.EmailHeader, len(headers))
	copy(sorted, headers)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].Date, sorted[j].Date
		if di == nil {
			return false
		}
		if dj == nil {
			return true
		}
		return di.After(*dj)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// updateScan applies a progress update, retrying once on a transient
// failure. Progress is advisory; a lost update never fails the scan.
func (s *Scanner) updateScan(scanID string, u repository.ScanLogUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.scans.Update(ctx, scanID, u)
	if errors.Is(err, repository.ErrTransient) {
		err = s.scans.Update(ctx, scanID, u)
	}
	if err != nil {
		s.log.Error("updating scan log failed", "scan_id", scanID, "error", err.Error())
	}
}

// finishScan writes the terminal status. Uses a fresh context so a
// cancelled scan can still record its outcome.
func (s *Scanner) finishScan(scanID string, status domain.ScanStatus, errDetails []scanError) {
	now := time.Now().UTC()
	u := repository.ScanLogUpdate{Status: &status, FinishedAt: &now}
	if len(errDetails) > 0 {
		if raw, err := json.Marshal(errDetails); err == nil {
			u.ErrorDetails = raw
		}
	}
	s.updateScan(scanID, u)
}
