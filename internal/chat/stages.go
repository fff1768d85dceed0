package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mira/internal/llm"
)

// stageResult carries one stage's outcome: the resolved value, the upstream
// call's wall-clock time, and whether the stage degraded to a fallback.
type stageResult struct {
	value    string
	elapsed  time.Duration
	fallback bool
}

// estimateAffect derives the updated affect descriptor from the previous one
// and the latest user message. Any failure returns the previous descriptor
// unchanged; the caller cannot tell success from fallback except through the
// value and timing.
func (o *Orchestrator) estimateAffect(ctx context.Context, prevAffect, userMessage string) stageResult {
	prompt := buildAffectPrompt(prevAffect, userMessage)
	messages := []llm.Message{{Role: "user", Content: prompt}}

	text, elapsed, err := o.client.Chat(ctx, o.cfg.TextModel, messages, o.cfg.AffectTimeout)
	if err != nil {
		o.logger.Warn("affect estimation failed, keeping previous state: %v", err)
		return stageResult{value: prevAffect, elapsed: elapsed, fallback: true}
	}
	return stageResult{value: text, elapsed: elapsed}
}

// generateReply produces the clinician reply from the full message sequence.
// It never returns an empty value: failures yield a sentinel string that
// embeds the cause, so the user always sees some text.
func (o *Orchestrator) generateReply(ctx context.Context, messages []llm.Message) stageResult {
	text, elapsed, err := o.client.Chat(ctx, o.cfg.TextModel, messages, o.cfg.ReplyTimeout)
	switch {
	case errors.Is(err, llm.ErrEmptyContent):
		o.logger.Warn("reply model returned no content")
		return stageResult{value: "(Error: unexpected model response)", elapsed: elapsed, fallback: true}
	case err != nil:
		o.logger.Error("reply generation failed: %v", err)
		return stageResult{value: fmt.Sprintf("(Error talking to model: %v)", err), elapsed: elapsed, fallback: true}
	}
	return stageResult{value: text, elapsed: elapsed}
}

// analyzeImage sends the attached frame to the vision model. Failures return
// a visible error string rather than an empty value; downstream surfaces it
// to the user instead of swallowing it.
func (o *Orchestrator) analyzeImage(ctx context.Context, imageB64 string) stageResult {
	// Accept both raw base64 and data-URI payloads.
	if strings.HasPrefix(imageB64, "data:") {
		if _, rest, ok := strings.Cut(imageB64, ","); ok {
			imageB64 = rest
		}
	}

	text, elapsed, err := o.client.Generate(ctx, o.cfg.VisionModel, visionObservationPrompt, imageB64, o.cfg.VisionTimeout)
	if err != nil {
		o.logger.Warn("vision analysis failed: %v", err)
		return stageResult{value: fmt.Sprintf("(Vision error: %v)", err), elapsed: elapsed, fallback: true}
	}
	return stageResult{value: text, elapsed: elapsed}
}

// selectExpression maps (affect, reply) onto one catalog member. The model's
// answer is lowercased and trimmed, then accepted only on exact membership;
// anything else yields the default expression. This is the only semantic
// validation gate on model output in the pipeline.
func (o *Orchestrator) selectExpression(ctx context.Context, affect, reply string) stageResult {
	if o.catalog.Len() == 0 {
		return stageResult{value: o.cfg.DefaultExpression, fallback: true}
	}

	prompt := buildExpressionPrompt(affect, reply, o.catalog.Joined())
	messages := []llm.Message{{Role: "user", Content: prompt}}

	text, elapsed, err := o.client.Chat(ctx, o.cfg.TextModel, messages, o.cfg.ExpressionTimeout)
	if err != nil {
		o.logger.Warn("expression selection failed, using default: %v", err)
		return stageResult{value: o.cfg.DefaultExpression, elapsed: elapsed, fallback: true}
	}

	expression := strings.ToLower(strings.TrimSpace(text))
	if !o.catalog.Contains(expression) {
		o.logger.Warn("model proposed expression %q outside the catalog, using default", expression)
		return stageResult{value: o.cfg.DefaultExpression, elapsed: elapsed, fallback: true}
	}
	return stageResult{value: expression, elapsed: elapsed}
}
