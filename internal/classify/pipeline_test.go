package classify_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ignite/dasher-monitor/internal/classify"
	"github.com/ignite/dasher-monitor/internal/config"
	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/repository"
)

// memAnalyses is an in-memory repository.Classifications for pipeline tests.
// getErrs and upsertErrs are popped one per call to inject failures.
type memAnalyses struct {
	mu         sync.Mutex
	rows       map[string]domain.Classification
	getErrs    []error
	upsertErrs []error
	gets       int
	upserts    int
}

func newMemAnalyses() *memAnalyses {
	return &memAnalyses{rows: make(map[string]domain.Classification)}
}

func (m *memAnalyses) key(inboxID, msgID string) string { return inboxID + "|" + msgID }

func (m *memAnalyses) seed(c domain.Classification) {
	m.rows[m.key(c.InboxID, c.MessageID)] = c
}

func (m *memAnalyses) GetByMessageIDs(ctx context.Context, inboxID string, ids []string) (map[string]domain.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if len(m.getErrs) > 0 {
		err := m.getErrs[0]
		m.getErrs = m.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make(map[string]domain.Classification)
	for _, id := range ids {
		if c, ok := m.rows[m.key(inboxID, id)]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *memAnalyses) Upsert(ctx context.Context, c *domain.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if len(m.upsertErrs) > 0 {
		err := m.upsertErrs[0]
		m.upsertErrs = m.upsertErrs[1:]
		if err != nil {
			return err
		}
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("row-%d", m.upserts)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.rows[m.key(c.InboxID, c.MessageID)] = *c
	return nil
}

func (m *memAnalyses) ListByInbox(ctx context.Context, inboxID string) ([]domain.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Classification
	for _, c := range m.rows {
		if c.InboxID == inboxID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memAnalyses) Stats(ctx context.Context) (*repository.AnalysisStats, error) {
	return &repository.AnalysisStats{}, nil
}

func (m *memAnalyses) ReviewQueue(ctx context.Context, limit int) ([]domain.Classification, error) {
	return nil, nil
}

func (m *memAnalyses) Review(ctx context.Context, id string, u repository.ReviewUpdate) (*domain.Classification, error) {
	return nil, repository.ErrNotFound
}

// fakeLLM satisfies classify.LLMTier with a canned result or error.
type fakeLLM struct {
	mu     sync.Mutex
	calls  int
	result classify.Result
	err    error
}

func (f *fakeLLM) Classify(ctx context.Context, subject, sender, body string) (*classify.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestPipeline(t *testing.T, repo repository.Classifications, llm classify.LLMTier) *classify.Pipeline {
	t.Helper()
	p, err := classify.NewPipeline(repo, llm, config.ClassifierConfig{
		RulesVersion:        "2026-02-13T00:00:00Z",
		MaxConcurrent:       2,
		ConfidenceThreshold: 0.7,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestNewPipelineBadRulesVersion(t *testing.T) {
	_, err := classify.NewPipeline(newMemAnalyses(), nil, config.ClassifierConfig{RulesVersion: "last tuesday"})
	if err == nil {
		t.Fatalf("expected error for unparseable rules version")
	}
}

func TestClassifyBatchRulesTier(t *testing.T) {
	repo := newMemAnalyses()
	llm := &fakeLLM{}
	p := newTestPipeline(t, repo, llm)

	msgs := []classify.Message{
		{ID: "m1", Subject: "Your weekly pay is ready", Sender: "pay@doordash.com"},
		{ID: "m2", Subject: "Your 1099 is ready to download", Sender: "no-reply@doordash.com"},
	}
	res, err := p.ClassifyBatch(context.Background(), "inbox-1", msgs, classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if len(res) != 2 || res[0].MessageID != "m1" || res[1].MessageID != "m2" {
		t.Fatalf("results out of input order: %+v", res)
	}
	if res[0].SubCategory != "weekly_pay" || res[0].Source != domain.SourceRules || res[0].Confidence != 0.95 {
		t.Errorf("m1 = %s from %s at %v", res[0].SubCategory, res[0].Source, res[0].Confidence)
	}
	if res[1].SubCategory != "tax_document" {
		t.Errorf("m2 sub = %s, want tax_document", res[1].SubCategory)
	}
	if llm.callCount() != 0 {
		t.Errorf("llm consulted %d times for rule matches", llm.callCount())
	}
	if repo.upserts != 2 {
		t.Errorf("upserts = %d, want 2", repo.upserts)
	}
}

func TestClassifyBatchSkipsFreshRows(t *testing.T) {
	repo := newMemAnalyses()
	repo.seed(domain.Classification{
		ID: "existing", InboxID: "inbox-1", MessageID: "m1",
		Category: domain.CategoryOperational, SubCategory: "policy_update",
		Source: domain.SourceAI, CreatedAt: time.Now(),
	})
	llm := &fakeLLM{}
	p := newTestPipeline(t, repo, llm)

	res, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Your weekly pay is ready", Sender: "pay@doordash.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if res[0].ID != "existing" || res[0].SubCategory != "policy_update" {
		t.Errorf("stored verdict not reused: %+v", res[0])
	}
	if repo.upserts != 0 || llm.callCount() != 0 {
		t.Errorf("fresh row reprocessed: upserts=%d llm=%d", repo.upserts, llm.callCount())
	}
}

func TestClassifyBatchRecomputesStaleRules(t *testing.T) {
	old := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemAnalyses()
	repo.seed(domain.Classification{
		ID: "stale-rules", InboxID: "inbox-1", MessageID: "m1",
		Category: domain.CategoryUnknown, SubCategory: "old_rule",
		Source: domain.SourceRules, CreatedAt: old,
	})
	repo.seed(domain.Classification{
		ID: "old-ai", InboxID: "inbox-1", MessageID: "m2",
		Category: domain.CategoryOperational, SubCategory: "kept_ai",
		Source: domain.SourceAI, CreatedAt: old,
	})
	p := newTestPipeline(t, repo, &fakeLLM{})

	res, err := p.ClassifyBatch(context.Background(), "inbox-1", []classify.Message{
		{ID: "m1", Subject: "Your weekly pay is ready", Sender: "pay@doordash.com"},
		{ID: "m2", Subject: "Something the AI already judged", Sender: "x@y.com"},
	}, classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if res[0].SubCategory != "weekly_pay" || res[0].Source != domain.SourceRules {
		t.Errorf("stale rules row not recomputed: %+v", res[0])
	}
	if res[1].ID != "old-ai" || res[1].SubCategory != "kept_ai" {
		t.Errorf("old AI verdict should survive a rule bank bump: %+v", res[1])
	}
	if repo.upserts != 1 {
		t.Errorf("upserts = %d, want 1", repo.upserts)
	}
}

func TestClassifyBatchTemplateDedup(t *testing.T) {
	repo := newMemAnalyses()
	p := newTestPipeline(t, repo, &fakeLLM{})
	cache := classify.NewTemplateCache()

	res, err := p.ClassifyBatch(context.Background(), "inbox-1", []classify.Message{
		{ID: "m1", Subject: "You earned $52.10 today", Sender: "pay@doordash.com"},
		{ID: "m2", Subject: "You earned $18.25 today", Sender: "pay@doordash.com"},
	}, cache)
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	for i, r := range res {
		if r.Category != domain.CategoryEarnings || r.SubCategory != "earnings_summary" {
			t.Errorf("res[%d] = %s/%s, want earnings/earnings_summary", i, r.Category, r.SubCategory)
		}
	}
	sources := map[domain.Source]int{res[0].Source: 1}
	sources[res[1].Source]++
	if sources[domain.SourceRules] != 1 || sources[domain.SourceRulesDedup] != 1 {
		t.Errorf("sources = %v/%v, want one rules and one rules_dedup", res[0].Source, res[1].Source)
	}
	if s := cache.Stats(); s.Templates != 1 {
		t.Errorf("templates cached = %d, want 1", s.Templates)
	}
	if repo.upserts != 2 {
		t.Errorf("both rows should persist, upserts = %d", repo.upserts)
	}
}

func TestClassifyBatchDedupAcrossInboxes(t *testing.T) {
	repo := newMemAnalyses()
	p := newTestPipeline(t, repo, &fakeLLM{})
	cache := classify.NewTemplateCache()

	first, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "You earned $52.10 today", Sender: "pay@doordash.com"}}, cache)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	second, err := p.ClassifyBatch(context.Background(), "inbox-2",
		[]classify.Message{{ID: "m9", Subject: "You earned $7.75 today", Sender: "pay@doordash.com"}}, cache)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if first[0].Source != domain.SourceRules {
		t.Errorf("first inbox source = %s, want rules", first[0].Source)
	}
	if second[0].Source != domain.SourceRulesDedup {
		t.Errorf("second inbox source = %s, want rules_dedup", second[0].Source)
	}
	if second[0].SubCategory != first[0].SubCategory {
		t.Errorf("dedup verdict diverged: %s vs %s", second[0].SubCategory, first[0].SubCategory)
	}
}

func TestClassifyBatchSubThresholdGoesToLLM(t *testing.T) {
	repo := newMemAnalyses()
	llm := &fakeLLM{result: classify.Result{
		Category: domain.CategoryOperational, SubCategory: "promotion",
		Confidence: 0.8, Urgency: domain.UrgencyInfo,
	}}
	p := newTestPipeline(t, repo, llm)

	res, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Quick note", Sender: "noreply@doordash.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if llm.callCount() != 1 {
		t.Fatalf("llm calls = %d, want 1 for sub-threshold rule match", llm.callCount())
	}
	if res[0].Source != domain.SourceAI || res[0].SubCategory != "promotion" {
		t.Errorf("got %s from %s, want promotion from ai", res[0].SubCategory, res[0].Source)
	}
}

func TestClassifyBatchManualFallback(t *testing.T) {
	repo := newMemAnalyses()
	llm := &fakeLLM{err: errors.New("model unavailable")}
	p := newTestPipeline(t, repo, llm)

	res, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Totally novel subject", Sender: "someone@example.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	r := res[0]
	if r.Source != domain.SourceManual || r.Category != domain.CategoryUnknown || r.SubCategory != "unclassified" {
		t.Errorf("fallback = %s/%s from %s", r.Category, r.SubCategory, r.Source)
	}
	if r.Confidence != 1.0 {
		t.Errorf("manual confidence = %v, want 1.0", r.Confidence)
	}
	if !strings.HasPrefix(r.Summary, "Could not classify: ") {
		t.Errorf("summary = %q", r.Summary)
	}
	if repo.upserts != 1 {
		t.Errorf("manual rows must persist for the review queue, upserts = %d", repo.upserts)
	}
}

func TestClassifyBatchManualFallbackMultibyteSubject(t *testing.T) {
	repo := newMemAnalyses()
	p := newTestPipeline(t, repo, nil)

	// 99 ASCII bytes plus a 2-byte rune straddling the summary cap.
	subject := strings.Repeat("x", 99) + "é" + " trailing context"
	res, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: subject, Sender: "someone@example.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if !utf8.ValidString(res[0].Summary) {
		t.Errorf("summary contains a split rune: %q", res[0].Summary)
	}
	if want := "Could not classify: " + strings.Repeat("x", 99); res[0].Summary != want {
		t.Errorf("summary = %q, want %q", res[0].Summary, want)
	}
}

func TestClassifyBatchNoLLMTier(t *testing.T) {
	repo := newMemAnalyses()
	p := newTestPipeline(t, repo, nil)

	res, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Totally novel subject", Sender: "someone@example.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if res[0].Source != domain.SourceManual {
		t.Errorf("source = %s, want manual when no llm is wired", res[0].Source)
	}
}

func TestClassifyBatchErrorRowOnCancel(t *testing.T) {
	repo := newMemAnalyses()
	llm := &fakeLLM{err: context.Canceled}
	p := newTestPipeline(t, repo, llm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.ClassifyBatch(ctx, "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Totally novel subject", Sender: "someone@example.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	r := res[0]
	if r.Source != domain.SourceError || r.SubCategory != "error" {
		t.Errorf("got %s/%s, want unknown/error", r.Category, r.SubCategory)
	}
	if !strings.HasPrefix(r.Summary, "Analysis failed: ") {
		t.Errorf("summary = %q", r.Summary)
	}
	if repo.upserts != 0 {
		t.Errorf("error placeholders must not persist, upserts = %d", repo.upserts)
	}
}

func TestClassifyBatchTransientLookupRetried(t *testing.T) {
	repo := newMemAnalyses()
	repo.getErrs = []error{repository.ErrTransient}
	p := newTestPipeline(t, repo, nil)

	_, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Your weekly pay is ready", Sender: "pay@doordash.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("transient lookup should be retried: %v", err)
	}
	if repo.gets != 2 {
		t.Errorf("gets = %d, want 2", repo.gets)
	}
}

func TestClassifyBatchLookupFailure(t *testing.T) {
	repo := newMemAnalyses()
	repo.getErrs = []error{repository.ErrTransient, repository.ErrTransient}
	p := newTestPipeline(t, repo, nil)

	_, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "s", Sender: "f"}},
		classify.NewTemplateCache())
	if err == nil {
		t.Fatalf("expected error when lookup keeps failing")
	}
	if !strings.Contains(err.Error(), "batch classification lookup") {
		t.Errorf("error = %v", err)
	}
}

func TestClassifyBatchUpsertRecovery(t *testing.T) {
	repo := newMemAnalyses()
	repo.upsertErrs = []error{repository.ErrTransient}
	p := newTestPipeline(t, repo, nil)

	res, err := p.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Your weekly pay is ready", Sender: "pay@doordash.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if repo.upserts != 2 {
		t.Errorf("upsert attempts = %d, want retry after transient failure", repo.upserts)
	}
	if _, ok := repo.rows["inbox-1|m1"]; !ok {
		t.Errorf("row missing after retry")
	}

	repo2 := newMemAnalyses()
	repo2.upsertErrs = []error{repository.ErrConflict}
	p2 := newTestPipeline(t, repo2, nil)
	res, err = p2.ClassifyBatch(context.Background(), "inbox-1",
		[]classify.Message{{ID: "m1", Subject: "Your weekly pay is ready", Sender: "pay@doordash.com"}},
		classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if res[0].SubCategory != "weekly_pay" {
		t.Errorf("conflict should still return the computed verdict, got %+v", res[0])
	}
}

func TestClassifyBatchEmpty(t *testing.T) {
	p := newTestPipeline(t, newMemAnalyses(), nil)
	res, err := p.ClassifyBatch(context.Background(), "inbox-1", nil, classify.NewTemplateCache())
	if err != nil {
		t.Fatalf("ClassifyBatch: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("len = %d, want 0", len(res))
	}
}
