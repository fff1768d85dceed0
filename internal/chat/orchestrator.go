package chat

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/observability"
)

// InferenceClient is the upstream surface the pipeline depends on. The
// concrete implementation lives in internal/llm.
type InferenceClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, timeout time.Duration) (string, time.Duration, error)
	Generate(ctx context.Context, model, prompt, imageB64 string, timeout time.Duration) (string, time.Duration, error)
}

// Catalog is the read-only expression set consulted by the selector stage.
type Catalog interface {
	Contains(id string) bool
	Joined() string
	Len() int
}

// PipelineConfig carries the pipeline's tunables. Every value is supplied by
// the caller; nothing here is hardcoded in stage logic.
type PipelineConfig struct {
	TextModel         string
	VisionModel       string
	AffectTimeout     time.Duration
	ReplyTimeout      time.Duration
	ExpressionTimeout time.Duration
	VisionTimeout     time.Duration
	DefaultExpression string
	PersonaTemplate   string
}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	SessionID   string
	UserMessage string
	ImageB64    string
}

// Diagnostics reports resolved intermediate values and per-stage timings for
// one turn. Field names match the service's debug payload.
type Diagnostics struct {
	SessionID    string `json:"session_id"`
	NumMessages  int    `json:"num_messages"`
	UseVision    bool   `json:"use_vision"`
	VisionText   string `json:"vision_text,omitempty"`
	AffectState  string `json:"affect_state"`
	AvatarState  string `json:"avatar_state"`
	VisionCallMS int64  `json:"vision_call_ms,omitempty"`
	AffectCallMS int64  `json:"affect_call_ms"`
	ReplyCallMS  int64  `json:"reply_call_ms"`
	AvatarCallMS int64  `json:"avatar_call_ms"`
	TotalMS      int64  `json:"total_ms"`
}

// TurnResult is everything a completed turn produces.
type TurnResult struct {
	SessionID  string
	Reply      string
	Expression string
	Debug      Diagnostics
}

// Orchestrator sequences one turn through its stages: optional vision
// analysis, concurrent affect estimation and reply generation, expression
// selection, then a single commit into the session store. Every stage
// degrades to a fallback rather than failing the turn.
type Orchestrator struct {
	client  InferenceClient
	store   *Store
	catalog Catalog
	cfg     PipelineConfig
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewOrchestrator wires the pipeline together. metrics may be nil.
func NewOrchestrator(client InferenceClient, store *Store, catalog Catalog, cfg PipelineConfig, logger logging.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		client:  client,
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
}

// Store exposes the session store for request-scoped maintenance (eviction
// sweeps run by the transport after each response).
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Turn runs one full user turn and commits the outcome. It never returns an
// error: upstream misbehavior surfaces only as degraded content and elevated
// stage timings in the diagnostics.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) TurnResult {
	sessionID, snap := o.store.Resolve(req.SessionID)

	// Vision runs first because its output feeds the system prompt.
	var vision stageResult
	useVision := req.ImageB64 != ""
	if useVision {
		vision = o.analyzeImage(ctx, req.ImageB64)
		o.metrics.ObserveStage("vision", vision.elapsed, vision.fallback)
	}

	systemPrompt := buildSystemPrompt(o.cfg.PersonaTemplate, snap.Affect, vision.value)
	messages := make([]llm.Message, 0, len(snap.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, entry := range snap.History {
		messages = append(messages, llm.Message{Role: entry.Role, Content: entry.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.UserMessage})

	o.logPrompt(messages)

	// Fanout: affect estimation and reply generation run concurrently and
	// both run to completion regardless of the other's outcome. Neither
	// branch can fail, so the group error is always nil.
	startParallel := time.Now()
	var affect, reply stageResult
	var g errgroup.Group
	g.Go(func() error {
		affect = o.estimateAffect(ctx, snap.Affect, req.UserMessage)
		return nil
	})
	g.Go(func() error {
		reply = o.generateReply(ctx, messages)
		return nil
	})
	_ = g.Wait()

	o.metrics.ObserveStage("affect", affect.elapsed, affect.fallback)
	o.metrics.ObserveStage("reply", reply.elapsed, reply.fallback)

	// The visible reply carries the vision commentary; the stored history
	// entry keeps only the model's own text so future prompts stay clean.
	visibleReply := reply.value
	if useVision && vision.value != "" {
		visibleReply += "\n\n(Vision) " + vision.value
	}

	expression := o.selectExpression(ctx, affect.value, visibleReply)
	o.metrics.ObserveStage("expression", expression.elapsed, expression.fallback)

	totalMS := time.Since(startParallel).Milliseconds()

	history := append(snap.History,
		Entry{Role: "user", Content: req.UserMessage},
		Entry{Role: "assistant", Content: reply.value},
	)
	o.store.Commit(sessionID, history, affect.value, expression.value)
	o.metrics.TurnCompleted()

	debug := Diagnostics{
		SessionID:    sessionID,
		NumMessages:  len(history),
		UseVision:    useVision,
		VisionText:   vision.value,
		AffectState:  affect.value,
		AvatarState:  expression.value,
		VisionCallMS: vision.elapsed.Milliseconds(),
		AffectCallMS: affect.elapsed.Milliseconds(),
		ReplyCallMS:  reply.elapsed.Milliseconds(),
		AvatarCallMS: expression.elapsed.Milliseconds(),
		TotalMS:      totalMS,
	}

	return TurnResult{
		SessionID:  sessionID,
		Reply:      visibleReply,
		Expression: expression.value,
		Debug:      debug,
	}
}

func (o *Orchestrator) logPrompt(messages []llm.Message) {
	for _, m := range messages {
		o.logger.Debug("prompt [%s]: %s", m.Role, m.Content)
	}
}
