package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/dasher-monitor/internal/config"
	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/fingerprint"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
	"github.com/ignite/dasher-monitor/internal/repository"
)

// LLMTier is the fallback classifier contract. *LLMClassifier satisfies it;
// a nil tier means the fallback is disabled and misses go to manual review.
type LLMTier interface {
	Classify(ctx context.Context, subject, sender, body string) (*Result, error)
}

// Message is one normalised input to the pipeline.
type Message struct {
	ID      string
	Subject string
	Sender  string
	Body    string
}

// Pipeline classifies batches of messages for one inbox at a time:
// persisted verdicts first, then the scan's template cache, then rules,
// then the LLM. Results always come back in input order.
type Pipeline struct {
	repo          repository.Classifications
	llm           LLMTier
	rulesVersion  time.Time
	threshold     float64
	maxConcurrent int
	log           *logger.Logger
}

// NewPipeline wires the pipeline. cfg.RulesVersion must be a valid RFC 3339
// timestamp; it decides which stored rules-sourced verdicts are stale.
func NewPipeline(repo repository.Classifications, llm LLMTier, cfg config.ClassifierConfig) (*Pipeline, error) {
	version, err := time.Parse(time.RFC3339, cfg.RulesVersion)
	if err != nil {
		return nil, fmt.Errorf("parse classifier rules version %q: %w", cfg.RulesVersion, err)
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = ConfidenceThreshold
	}
	return &Pipeline{
		repo:          repo,
		llm:           llm,
		rulesVersion:  version,
		threshold:     threshold,
		maxConcurrent: maxConcurrent,
		log:           logger.With("pipeline"),
	}, nil
}

// stale reports whether a stored verdict predates the current rule bank.
// Only rules-sourced rows go stale; AI and manual verdicts survive rule
// changes.
func (p *Pipeline) stale(c domain.Classification) bool {
	return c.Source == domain.SourceRules && c.CreatedAt.Before(p.rulesVersion)
}

// ClassifyBatch runs the pipeline over one inbox's messages. The template
// cache is scan-scoped and shared across inboxes; pass the same instance to
// every batch of a scan. A per-message failure yields an unknown/error
// placeholder instead of aborting the batch.
func (p *Pipeline) ClassifyBatch(ctx context.Context, inboxID string, msgs []Message, cache *TemplateCache) ([]domain.Classification, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	cached, err := p.repo.GetByMessageIDs(ctx, inboxID, ids)
	if errors.Is(err, repository.ErrTransient) {
		cached, err = p.repo.GetByMessageIDs(ctx, inboxID, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("batch classification lookup: %w", err)
	}

	type job struct {
		idx int
		msg Message
	}
	results := make([]domain.Classification, len(msgs))
	var jobs []job
	for i, m := range msgs {
		if row, ok := cached[m.ID]; ok && !p.stale(row) {
			results[i] = row
			continue
		}
		jobs = append(jobs, job{idx: i, msg: m})
	}

	if len(jobs) > 0 {
		sem := make(chan struct{}, p.maxConcurrent)
		var wg sync.WaitGroup
		for _, j := range jobs {
			wg.Add(1)
			go func(j job) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[j.idx] = p.classifyOne(ctx, inboxID, j.msg, cache)
			}(j)
		}
		wg.Wait()
	}

	p.log.Info("batch analysis complete",
		"account", inboxID,
		"total", len(msgs),
		"cached", len(msgs)-len(jobs),
		"processed", len(jobs))
	return results, nil
}

// classifyOne runs the cache -> rules -> LLM flow for a single message.
// Never returns an error: failures become unknown/error placeholders so a
// bad message cannot sink its batch.
func (p *Pipeline) classifyOne(ctx context.Context, inboxID string, m Message, cache *TemplateCache) (out domain.Classification) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("classification worker panic",
				"account", inboxID, "message_id", m.ID, "panic", fmt.Sprint(r))
			out = p.errorRow(inboxID, m, fmt.Sprint(r))
		}
	}()

	fp := fingerprint.Make(m.Subject, m.Sender)
	if r, src, ok := cache.Get(fp); ok {
		return p.persist(ctx, inboxID, m, r, src.Dedup())
	}

	truncated := SmartTruncate(m.Body)
	if r := ClassifyRules(m.Subject, m.Sender, truncated); r != nil && r.Confidence >= p.threshold {
		winner, winnerSrc, stored := cache.Put(fp, *r, domain.SourceRules)
		src := domain.SourceRules
		if !stored {
			src = winnerSrc.Dedup()
		}
		return p.persist(ctx, inboxID, m, winner, src)
	}

	if p.llm != nil {
		r, err := p.llm.Classify(ctx, m.Subject, m.Sender, m.Body)
		if err == nil && r != nil {
			winner, winnerSrc, stored := cache.Put(fp, *r, domain.SourceAI)
			src := domain.SourceAI
			if !stored {
				src = winnerSrc.Dedup()
			}
			return p.persist(ctx, inboxID, m, winner, src)
		}
		if err != nil {
			p.log.Warn("llm fallback failed",
				"account", inboxID, "message_id", m.ID, "error", err.Error())
		}
		if ctx.Err() != nil {
			return p.errorRow(inboxID, m, ctx.Err().Error())
		}
	}

	// Nothing could place the message; route it to manual review.
	subj := cutRunes(m.Subject, 100)
	manual := Result{
		Category:    domain.CategoryUnknown,
		SubCategory: "unclassified",
		Confidence:  1.0,
		Summary:     "Could not classify: " + subj,
		Urgency:     domain.UrgencyLow,
	}
	return p.persist(ctx, inboxID, m, manual, domain.SourceManual)
}

// persist upserts the verdict keyed on (inbox, message). Conflicts are
// idempotent re-arrivals and ignored; transient failures get one retry;
// anything else is logged and the unsaved row returned so the batch keeps
// its shape.
func (p *Pipeline) persist(ctx context.Context, inboxID string, m Message, r Result, src domain.Source) domain.Classification {
	row := domain.Classification{
		InboxID:        inboxID,
		MessageID:      m.ID,
		Category:       r.Category,
		SubCategory:    r.SubCategory,
		Confidence:     domain.ClampConfidence(r.Confidence),
		Source:         src,
		Summary:        r.Summary,
		Urgency:        r.Urgency,
		ActionRequired: r.ActionRequired,
		KeyDetails:     r.KeyDetails,
		RawResponse:    r.RawResponse,
	}
	if src == domain.SourceManual {
		row.Confidence = 1.0
	}

	err := p.repo.Upsert(ctx, &row)
	if errors.Is(err, repository.ErrTransient) {
		err = p.repo.Upsert(ctx, &row)
	}
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		p.log.Error("failed to persist classification",
			"account", inboxID, "message_id", m.ID, "error", err.Error())
	}
	return row
}

func (p *Pipeline) errorRow(inboxID string, m Message, msg string) domain.Classification {
	return domain.Classification{
		InboxID:     inboxID,
		MessageID:   m.ID,
		Category:    domain.CategoryUnknown,
		SubCategory: "error",
		Source:      domain.SourceError,
		Summary:     "Analysis failed: " + msg,
		Urgency:     domain.UrgencyLow,
	}
}
