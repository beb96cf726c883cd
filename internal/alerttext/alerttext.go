// Package alerttext renders operator-alert titles and messages through
// Liquid templates. Deployments can reword alerts via configuration;
// render failures fall back to the built-in wording so a bad template
// never suppresses an alert.
package alerttext

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
	"github.com/osteele/liquid"
)

// Template names recognised in the alerts.templates config map.
const (
	TemplateStageTitle      = "stage_title"
	TemplateStageMessage    = "stage_message"
	TemplateCriticalTitle   = "critical_title"
	TemplateCriticalMessage = "critical_message"
)

var defaults = map[string]string{
	TemplateStageTitle:      `{{ new_stage | stage_label }}: {{ email }}`,
	TemplateStageMessage:    `{{ email }} moved from {{ old_stage | stage_label }} to {{ new_stage | stage_label }}{% if trigger_subject != "" %} (trigger: "{{ trigger_subject }}"){% endif %}`,
	TemplateCriticalTitle:   `Critical email for {{ email }}`,
	TemplateCriticalMessage: `{{ category | titlecase }}/{{ sub_category }}: {{ summary }}`,
}

var stageLabels = map[string]string{
	string(domain.StageRegistered):       "Registered",
	string(domain.StageIdentityVerified): "Identity Verified",
	string(domain.StageBGCPending):       "Background Check Pending",
	string(domain.StageBGCClear):         "Background Check Clear",
	string(domain.StageBGCConsider):      "Background Check Consider",
	string(domain.StageActive):           "Active",
	string(domain.StageDeactivated):      "Deactivated",
}

// Renderer compiles and caches alert templates. Safe for concurrent use.
type Renderer struct {
	engine    *liquid.Engine
	overrides map[string]string
	cache     sync.Map // template name -> *liquid.Template
	log       *logger.Logger
}

// NewRenderer builds a renderer with the given template overrides keyed
// by template name; missing keys use the built-in wording.
func NewRenderer(overrides map[string]string) *Renderer {
	engine := liquid.NewEngine()

	engine.RegisterFilter("stage_label", func(s string) string {
		if label, ok := stageLabels[strings.ToUpper(s)]; ok {
			return label
		}
		return s
	})
	engine.RegisterFilter("titlecase", func(s string) string {
		words := strings.Fields(strings.ToLower(strings.ReplaceAll(s, "_", " ")))
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})
	engine.RegisterFilter("mask_email", func(email string) string {
		at := strings.Index(email, "@")
		if at < 0 {
			return email
		}
		local, dom := email[:at], email[at+1:]
		if len(local) <= 2 {
			return local + "***@" + dom
		}
		return local[:2] + "***@" + dom
	})

	return &Renderer{
		engine:    engine,
		overrides: overrides,
		log:       logger.With("alerttext"),
	}
}

// StageAlert renders the title and message of a stage-promotion alert.
func (r *Renderer) StageAlert(email string, oldStage, newStage domain.Stage, triggerSubject string) (title, message string) {
	ctx := map[string]interface{}{
		"email":           email,
		"old_stage":       string(oldStage),
		"new_stage":       string(newStage),
		"trigger_subject": triggerSubject,
	}
	title = r.render(TemplateStageTitle, ctx)
	message = r.render(TemplateStageMessage, ctx)
	return title, message
}

// CriticalEmailAlert renders the title and message of a
// critical-classification alert.
func (r *Renderer) CriticalEmailAlert(email string, c domain.Classification) (title, message string) {
	ctx := map[string]interface{}{
		"email":        email,
		"category":     string(c.Category),
		"sub_category": c.SubCategory,
		"summary":      c.Summary,
		"urgency":      string(c.Urgency),
	}
	title = r.render(TemplateCriticalTitle, ctx)
	message = r.render(TemplateCriticalMessage, ctx)
	return title, message
}

// render resolves a template by name (override, then default), caching
// the compiled form. Lax mode: any failure falls back to the built-in
// template, and failing that to a plain join of the context.
func (r *Renderer) render(name string, ctx map[string]interface{}) string {
	src, overridden := r.overrides[name]
	if !overridden || src == "" {
		src = defaults[name]
	}

	if out, err := r.renderSource(name, src, ctx); err == nil {
		return out
	} else if overridden {
		r.log.Warn("alert template render failed, using default wording",
			"template", name, "error", err.Error())
		if out, err := r.renderSource(name+":default", defaults[name], ctx); err == nil {
			return out
		}
	}
	return fmt.Sprintf("%v %v", ctx["email"], name)
}

func (r *Renderer) renderSource(cacheKey, src string, ctx map[string]interface{}) (string, error) {
	if cached, ok := r.cache.Load(cacheKey); ok {
		return cached.(*liquid.Template).RenderString(ctx)
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(cacheKey, tpl)
	return tpl.RenderString(ctx)
}
