package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/observability/telemetry"
	"github.com/seu-repo/contavoz/internal/ports"
)

// Layer confidences. Exact rule hits are authoritative; each cheaper
// approximation below it is discounted.
const (
	confidenceRule     = 1.0
	confidenceLearned  = 0.95
	confidenceSynonym  = 0.9
	confidenceTemplate = 0.85
)

// template is one slot-match pattern of the third layer.
type template struct {
	re     *regexp.Regexp
	intent domain.IntentType
}

// templates catch utterances the keyword tables miss but whose shape is
// unambiguous, like "lunch 30".
var templates = []template{
	// "<category words> <amount>" e.g. "lunch 30", "coffee 12.50"
	{regexp.MustCompile(`^([a-z][a-z ]*)\s+\$?\d+(?:\.\d{1,2})?$`), domain.IntentAddTransaction},
	// "<amount> for <thing>" e.g. "30 for parking"
	{regexp.MustCompile(`^\$?\d+(?:\.\d{1,2})?\s+(?:for|on)\s+.+$`), domain.IntentAddTransaction},
	// "that <thing> was wrong" style correction
	{regexp.MustCompile(`(?:was|is)\s+(?:wrong|incorrect)`), domain.IntentModifyTransaction},
	// "budget for <category> is <amount>"
	{regexp.MustCompile(`budget\s+(?:for\s+)?[a-z ]+\s+(?:is|to)\s+\$?\d+`), domain.IntentConfigure},
}

// Config carries the pipeline tunables.
type Config struct {
	// LLMThreshold: results below it from the local layers fall through
	// to the fallback recognizer.
	LLMThreshold float64
	// LearnedTTL bounds learned-intent cache entries.
	LearnedTTL time.Duration
}

// Pipeline is the layered intent recognizer. It always returns a result;
// on total failure the result carries IntentUnknown with confidence zero.
type Pipeline struct {
	cfg      Config
	learned  ports.LearnedIntentRepository
	cache    ports.Cache
	fallback ports.FallbackRecognizer
	now      func() time.Time
	log      *zap.Logger
}

func NewPipeline(
	cfg Config,
	learned ports.LearnedIntentRepository,
	cache ports.Cache,
	fallback ports.FallbackRecognizer,
	log *zap.Logger,
) *Pipeline {
	if cfg.LLMThreshold <= 0 {
		cfg.LLMThreshold = 0.6
	}
	if cfg.LearnedTTL <= 0 {
		cfg.LearnedTTL = 24 * time.Hour
	}
	return &Pipeline{
		cfg:      cfg,
		learned:  learned,
		cache:    cache,
		fallback: fallback,
		now:      time.Now,
		log:      log,
	}
}

// Recognize runs the layers in order and returns the first confident match.
// userID scopes the learned-cache layer; pageHint feeds the LLM fallback.
func (p *Pipeline) Recognize(ctx context.Context, userID, input, pageHint string) *domain.IntentAnalysisResult {
	res := p.recognize(ctx, userID, input, pageHint)
	telemetry.RecognitionLayerTotal.WithLabelValues(string(res.Layer)).Inc()
	return res
}

func (p *Pipeline) recognize(ctx context.Context, userID, input, pageHint string) *domain.IntentAnalysisResult {
	normalized := normalize(input)
	now := p.now()

	// Layer 1: exact rule match, no network.
	if intent, ok := matchRules(normalized); ok {
		return p.result(intent, confidenceRule, normalized, input, domain.LayerRule, now)
	}

	// Layer 2: synonym-expanded match.
	expanded := expandSynonyms(normalized)
	if expanded != normalized {
		if intent, ok := matchRules(expanded); ok {
			return p.result(intent, confidenceSynonym, expanded, input, domain.LayerSynonym, now)
		}
	}

	// Layer 3: template match with typed slots.
	for _, t := range templates {
		if t.re.MatchString(expanded) {
			return p.result(t.intent, confidenceTemplate, expanded, input, domain.LayerTemplate, now)
		}
	}

	// Layer 4: this user's previously confirmed utterances.
	if res := p.lookupLearned(ctx, userID, normalized, input); res != nil {
		return res
	}

	// Layer 5: LLM fallback. Degrades to Unknown, never propagates an
	// error into the turn.
	if p.fallback != nil {
		start := time.Now()
		res, err := p.fallback.Recognize(ctx, input, pageHint)
		telemetry.LLMFallbackLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			p.log.Warn("llm fallback unavailable", zap.Error(err))
		} else if res != nil && res.Confidence >= p.cfg.LLMThreshold {
			res.RawInput = input
			res.Layer = domain.LayerLLM
			return res
		}
	}

	return &domain.IntentAnalysisResult{
		Type:       domain.IntentUnknown,
		Confidence: 0,
		RawInput:   input,
		Layer:      domain.LayerNone,
	}
}

func (p *Pipeline) result(intent domain.IntentType, confidence float64, normalized, raw string, layer domain.RecognitionLayer, now time.Time) *domain.IntentAnalysisResult {
	return &domain.IntentAnalysisResult{
		Type:       intent,
		Confidence: confidence,
		Entities:   extractEntities(normalized, now),
		RawInput:   raw,
		Layer:      layer,
	}
}

func (p *Pipeline) lookupLearned(ctx context.Context, userID, normalized, raw string) *domain.IntentAnalysisResult {
	if userID == "" {
		return nil
	}

	key := learnedKey(userID, normalized)

	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, key); err == nil && cached != "" {
			var li domain.LearnedIntent
			if err := json.Unmarshal([]byte(cached), &li); err == nil {
				p.touch(ctx, li.ID)
				return p.learnedResult(&li, raw)
			}
		}
	}

	if p.learned == nil {
		return nil
	}
	li, err := p.learned.FindByUtterance(ctx, userID, normalized)
	if err != nil {
		p.log.Warn("learned intent lookup failed", zap.Error(err))
		return nil
	}
	if li == nil {
		return nil
	}

	if p.cache != nil {
		if data, err := json.Marshal(li); err == nil {
			_ = p.cache.Set(ctx, key, string(data), p.cfg.LearnedTTL)
		}
	}
	p.touch(ctx, li.ID)
	return p.learnedResult(li, raw)
}

// touch bumps the hit counter behind the resolved pair. Best effort: a
// failed bump never affects the turn.
func (p *Pipeline) touch(ctx context.Context, id string) {
	if p.learned == nil || id == "" {
		return
	}
	if err := p.learned.Touch(ctx, id); err != nil {
		p.log.Warn("learned intent touch failed", zap.Error(err))
	}
}

func (p *Pipeline) learnedResult(li *domain.LearnedIntent, raw string) *domain.IntentAnalysisResult {
	var entities map[string]string
	if li.Entities != "" {
		_ = json.Unmarshal([]byte(li.Entities), &entities)
	}
	return &domain.IntentAnalysisResult{
		Type:       li.Intent,
		Confidence: confidenceLearned,
		Entities:   entities,
		RawInput:   raw,
		Layer:      domain.LayerLearned,
	}
}

// Learn records a confirmed utterance-to-intent pair so layer 4 can short-
// circuit the next time the user says the same thing.
func (p *Pipeline) Learn(ctx context.Context, userID string, res *domain.IntentAnalysisResult) {
	if p.learned == nil || userID == "" || res == nil || res.Type == domain.IntentUnknown {
		return
	}
	// Only remember utterances the expensive layer had to resolve.
	if res.Layer != domain.LayerLLM {
		return
	}

	normalized := normalize(res.RawInput)
	var entities string
	if len(res.Entities) > 0 {
		if data, err := json.Marshal(res.Entities); err == nil {
			entities = string(data)
		}
	}

	li := &domain.LearnedIntent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Utterance: normalized,
		Intent:    res.Type,
		Entities:  entities,
		Hits:      1,
		CreatedAt: p.now(),
		UpdatedAt: p.now(),
	}
	if err := p.learned.Save(ctx, li); err != nil {
		p.log.Warn("failed to persist learned intent", zap.Error(err))
		return
	}
	if p.cache != nil {
		if data, err := json.Marshal(li); err == nil {
			_ = p.cache.Set(ctx, learnedKey(userID, normalized), string(data), p.cfg.LearnedTTL)
		}
	}
}

func learnedKey(userID, normalized string) string {
	return fmt.Sprintf("learned_intent:%s:%s", userID, normalized)
}
