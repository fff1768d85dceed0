package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mira/internal/avatar"
	"mira/internal/llm"
)

// fakeClient routes chat calls to canned stage outcomes by recognizing the
// stage prompts, and records every call for assertions.
type fakeClient struct {
	mu sync.Mutex

	affectText     string
	affectErr      error
	replyText      string
	replyErr       error
	expressionText string
	expressionErr  error
	visionText     string
	visionErr      error

	replyCalls      [][]llm.Message
	expressionCalls []string
	generateCalls   []string
}

func (f *fakeClient) Chat(_ context.Context, _ string, messages []llm.Message, _ time.Duration) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt := messages[len(messages)-1].Content
	switch {
	case len(messages) == 1 && strings.HasPrefix(prompt, "Previous state:"):
		return f.affectText, time.Millisecond, f.affectErr
	case len(messages) == 1 && strings.HasPrefix(prompt, "You are selecting"):
		f.expressionCalls = append(f.expressionCalls, prompt)
		return f.expressionText, time.Millisecond, f.expressionErr
	default:
		f.replyCalls = append(f.replyCalls, append([]llm.Message(nil), messages...))
		return f.replyText, time.Millisecond, f.replyErr
	}
}

func (f *fakeClient) Generate(_ context.Context, _ string, _ string, imageB64 string, _ time.Duration) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls = append(f.generateCalls, imageB64)
	return f.visionText, time.Millisecond, f.visionErr
}

func happyClient() *fakeClient {
	return &fakeClient{
		affectText:     "anxious, hopeful, tired",
		replyText:      "I hear you. Let's take this one step at a time.",
		expressionText: "concerned",
	}
}

func newTestOrchestrator(client InferenceClient, catalog Catalog) *Orchestrator {
	if catalog == nil {
		catalog = avatar.NewCatalog("calm", "concerned", "welcoming")
	}
	cfg := PipelineConfig{
		TextModel:         "llama3",
		VisionModel:       "llava",
		AffectTimeout:     20 * time.Second,
		ReplyTimeout:      60 * time.Second,
		ExpressionTimeout: 20 * time.Second,
		VisionTimeout:     60 * time.Second,
		DefaultExpression: "welcoming",
		PersonaTemplate:   "You are a clinician. The patient appears: %s.\n",
	}
	store := NewStore("emotionally neutral", "welcoming", nil)
	return NewOrchestrator(client, store, catalog, cfg, nil, nil)
}

func TestTurnCommitsFullOutcome(t *testing.T) {
	client := happyClient()
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "I could not sleep all week."})

	require.NotEmpty(t, result.SessionID)
	assert.Equal(t, client.replyText, result.Reply)
	assert.Equal(t, "concerned", result.Expression)

	_, snap := o.Store().Resolve(result.SessionID)
	require.Len(t, snap.History, 2)
	assert.Equal(t, Entry{Role: "user", Content: "I could not sleep all week."}, snap.History[0])
	assert.Equal(t, Entry{Role: "assistant", Content: client.replyText}, snap.History[1])
	assert.Equal(t, "anxious, hopeful, tired", snap.Affect)
	assert.Equal(t, "concerned", snap.Expression)

	assert.Equal(t, result.SessionID, result.Debug.SessionID)
	assert.Equal(t, 2, result.Debug.NumMessages)
	assert.False(t, result.Debug.UseVision)
	assert.Equal(t, "anxious, hopeful, tired", result.Debug.AffectState)
	assert.Equal(t, "concerned", result.Debug.AvatarState)
}

func TestTurnHistoryGrowsByTwoPerTurn(t *testing.T) {
	o := newTestOrchestrator(happyClient(), nil)

	first := o.Turn(context.Background(), TurnRequest{UserMessage: "one"})
	second := o.Turn(context.Background(), TurnRequest{SessionID: first.SessionID, UserMessage: "two"})

	assert.Equal(t, first.SessionID, second.SessionID)
	_, snap := o.Store().Resolve(first.SessionID)
	assert.Len(t, snap.History, 4)
}

func TestTurnReplaysHistoryVerbatim(t *testing.T) {
	client := happyClient()
	o := newTestOrchestrator(client, nil)

	first := o.Turn(context.Background(), TurnRequest{UserMessage: "first message"})
	o.Turn(context.Background(), TurnRequest{SessionID: first.SessionID, UserMessage: "second message"})

	require.Len(t, client.replyCalls, 2)
	secondPrompt := client.replyCalls[1]
	require.Len(t, secondPrompt, 4) // system + first user + first assistant + second user
	assert.Equal(t, "system", secondPrompt[0].Role)
	assert.Equal(t, llm.Message{Role: "user", Content: "first message"}, secondPrompt[1])
	assert.Equal(t, llm.Message{Role: "assistant", Content: client.replyText}, secondPrompt[2])
	assert.Equal(t, llm.Message{Role: "user", Content: "second message"}, secondPrompt[3])
}

func TestSystemPromptCarriesCurrentAffect(t *testing.T) {
	client := happyClient()
	o := newTestOrchestrator(client, nil)

	first := o.Turn(context.Background(), TurnRequest{UserMessage: "first"})
	o.Turn(context.Background(), TurnRequest{SessionID: first.SessionID, UserMessage: "second"})

	require.Len(t, client.replyCalls, 2)
	assert.Contains(t, client.replyCalls[0][0].Content, "emotionally neutral")
	assert.Contains(t, client.replyCalls[1][0].Content, "anxious, hopeful, tired")
}

func TestAffectFailureKeepsPreviousState(t *testing.T) {
	client := happyClient()
	client.affectErr = errors.New("connection refused")
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})

	_, snap := o.Store().Resolve(result.SessionID)
	assert.Equal(t, "emotionally neutral", snap.Affect)
	assert.Equal(t, client.replyText, result.Reply, "reply is unaffected by the sibling branch failing")
}

func TestReplyFailureProducesSentinelAndStillCommits(t *testing.T) {
	client := happyClient()
	client.replyErr = errors.New("connection refused")
	client.replyText = ""
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})

	assert.Contains(t, result.Reply, "(Error talking to model: connection refused)")
	_, snap := o.Store().Resolve(result.SessionID)
	require.Len(t, snap.History, 2)
	assert.Contains(t, snap.History[1].Content, "(Error talking to model", "errors are data at the history level")
}

func TestReplyEmptyContentSentinel(t *testing.T) {
	client := happyClient()
	client.replyErr = llm.ErrEmptyContent
	client.replyText = ""
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})
	assert.Equal(t, "(Error: unexpected model response)", result.Reply)
}

func TestInvalidExpressionFallsBackToDefault(t *testing.T) {
	client := happyClient()
	client.expressionText = "confused"
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})

	assert.Equal(t, "welcoming", result.Expression)
	_, snap := o.Store().Resolve(result.SessionID)
	assert.Equal(t, "welcoming", snap.Expression)
}

func TestExpressionAnswerIsCaseFolded(t *testing.T) {
	client := happyClient()
	client.expressionText = "  Concerned \n"
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})
	assert.Equal(t, "concerned", result.Expression)
}

func TestExpressionFailureFallsBackToDefault(t *testing.T) {
	client := happyClient()
	client.expressionErr = errors.New("timeout")
	client.expressionText = ""
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})
	assert.Equal(t, "welcoming", result.Expression)
}

func TestEmptyCatalogAlwaysSelectsDefault(t *testing.T) {
	client := happyClient()
	o := newTestOrchestrator(client, avatar.NewCatalog())

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})

	assert.Equal(t, "welcoming", result.Expression)
	assert.Empty(t, client.expressionCalls, "no upstream call is made for an empty catalog")
}

func TestVisionFeedsPromptAndVisibleReplyOnly(t *testing.T) {
	client := happyClient()
	client.visionText = "The patient looks tired but alert."
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{
		UserMessage: "how do I look?",
		ImageB64:    "data:image/png;base64,aGVsbG8=",
	})

	// Data-URI prefix is stripped before the upstream call.
	require.Len(t, client.generateCalls, 1)
	assert.Equal(t, "aGVsbG8=", client.generateCalls[0])

	// The system prompt carries the observation block.
	require.NotEmpty(t, client.replyCalls)
	assert.Contains(t, client.replyCalls[0][0].Content, "[VISION]: The patient looks tired but alert.")

	// Visible reply gets the commentary; stored history does not.
	assert.Contains(t, result.Reply, "\n\n(Vision) The patient looks tired but alert.")
	_, snap := o.Store().Resolve(result.SessionID)
	assert.Equal(t, client.replyText, snap.History[1].Content)

	assert.True(t, result.Debug.UseVision)
	assert.Equal(t, "The patient looks tired but alert.", result.Debug.VisionText)
}

func TestVisionFailureIsVisibleDownstream(t *testing.T) {
	client := happyClient()
	client.visionErr = errors.New("model not loaded")
	client.visionText = ""
	o := newTestOrchestrator(client, nil)

	result := o.Turn(context.Background(), TurnRequest{UserMessage: "hi", ImageB64: "aGVsbG8="})

	assert.Contains(t, result.Reply, "(Vision error: model not loaded)")
}

func TestExpressionSelectionSeesVisibleReply(t *testing.T) {
	client := happyClient()
	client.visionText = "Patient is smiling."
	o := newTestOrchestrator(client, nil)

	o.Turn(context.Background(), TurnRequest{UserMessage: "hi", ImageB64: "aGVsbG8="})

	require.Len(t, client.expressionCalls, 1)
	assert.Contains(t, client.expressionCalls[0], "(Vision) Patient is smiling.")
}

func TestConcurrentTurnsOnDistinctSessions(t *testing.T) {
	client := happyClient()
	o := newTestOrchestrator(client, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.Turn(context.Background(), TurnRequest{UserMessage: "hello"})
			_, snap := o.Store().Resolve(result.SessionID)
			assert.Len(t, snap.History, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, o.Store().Len())
}
