package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/basket/minder/internal/otel"
	"github.com/basket/minder/internal/persistence"
	"github.com/basket/minder/internal/shared"
)

const (
	// providerApology goes out when every completion attempt failed. The
	// turn is discarded: history must not record a turn the model never saw.
	providerApology = "Sorry, I'm having trouble reaching my language model right now. Please try again in a moment."

	// capApology goes out when the model is still asking for tools at the
	// iteration cap. The turn is committed so the tool effects stay visible.
	capApology = "I ran out of steps while working on that. The changes I already made are saved; please ask again to continue."

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// ToolDispatcher executes one named tool call and renders its outcome as
// text for the model. Implementations must treat the owner id from the
// context as authoritative.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// LoopConfig tunes one Loop instance.
type LoopConfig struct {
	AgentName         string
	Persona           string
	MaxToolIterations int
	ProviderAttempts  int
	HistoryLimit      int
}

// Loop is the conversation orchestrator. Process never returns an error:
// every failure becomes a user-facing reply.
type Loop struct {
	store      *persistence.Store
	provider   CompletionProvider
	dispatcher ToolDispatcher
	logger     *slog.Logger
	metrics    *otel.Metrics
	cfg        LoopConfig

	personaMu sync.RWMutex
	persona   string

	// sessionLocks serializes turns per session id.
	sessionLocks sync.Map

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoop(store *persistence.Store, provider CompletionProvider, dispatcher ToolDispatcher, logger *slog.Logger, metrics *otel.Metrics, cfg LoopConfig) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 5
	}
	if cfg.ProviderAttempts <= 0 {
		cfg.ProviderAttempts = 3
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 40
	}
	return &Loop{
		store:      store,
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		persona:    cfg.Persona,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// UpdatePersona swaps the system prompt base. Safe to call while turns run;
// in-flight turns keep the persona they started with.
func (l *Loop) UpdatePersona(persona string) {
	l.personaMu.Lock()
	l.persona = persona
	l.personaMu.Unlock()
}

func (l *Loop) systemPrompt() string {
	l.personaMu.RLock()
	persona := strings.TrimSpace(l.persona)
	l.personaMu.RUnlock()
	if persona == "" {
		name := l.cfg.AgentName
		if name == "" {
			name = "Minder"
		}
		persona = fmt.Sprintf(
			"You are %s, a personal scheduling assistant. Manage the user's calendar entries with your tools: create, look up, move, complete and delete entries, and adjust reminder settings. Confirm what you did in one or two friendly sentences. When a time is ambiguous, ask instead of guessing.",
			name,
		)
	}
	return persona
}

// Process handles one user message and returns the reply text. The session
// is locked for the duration: concurrent messages for the same session run
// strictly one after another.
func (l *Loop) Process(ctx context.Context, sessionID, userMessage string) (reply string) {
	start := l.now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("turn panicked", "session_id", sessionID, "panic", r)
			reply = providerApology
		}
		if l.metrics != nil {
			l.metrics.TurnDuration.Record(ctx, l.now().Sub(start).Seconds())
		}
	}()

	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return "I didn't catch that. What would you like me to do?"
	}

	// Owner identity comes from the session, never from the model.
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithSessionID(ctx, sessionID)
	ctx = shared.WithOwnerID(ctx, sessionID)

	muIface, _ := l.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	history, err := l.store.ListMessages(ctx, sessionID, l.cfg.HistoryLimit)
	if err != nil {
		l.logger.Error("load history failed", "session_id", sessionID, "error", err)
		history = nil // degrade to a memoryless turn rather than failing
	}

	transcript := historyToMessages(trimToTurnStart(history))
	turn := []Message{{Role: RoleUser, Content: userMessage}}

	for step := 0; step < l.cfg.MaxToolIterations; step++ {
		if l.metrics != nil {
			l.metrics.LoopStepsTotal.Add(ctx, 1)
		}
		completion, err := l.completeWithRetry(ctx, CompletionRequest{
			System:   l.systemPrompt(),
			Messages: append(append([]Message{}, transcript...), turn...),
		})
		if err != nil {
			l.logger.Error("provider exhausted", "session_id", sessionID, "step", step, "error", err)
			return providerApology
		}

		if len(completion.ToolCalls) == 0 {
			text := strings.TrimSpace(completion.Text)
			if text == "" {
				text = "Done."
			}
			turn = append(turn, Message{Role: RoleAssistant, Content: text})
			l.commitTurn(ctx, sessionID, turn)
			return text
		}

		turn = append(turn, Message{
			Role:      RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			turn = append(turn, l.executeTool(ctx, sessionID, call))
		}
	}

	l.logger.Warn("iteration cap reached", "session_id", sessionID, "cap", l.cfg.MaxToolIterations)
	turn = append(turn, Message{Role: RoleAssistant, Content: capApology})
	l.commitTurn(ctx, sessionID, turn)
	return capApology
}

// executeTool dispatches one call and renders the outcome as a tool message.
// Tool failures are not loop failures: the model gets the error as text and
// decides how to recover.
func (l *Loop) executeTool(ctx context.Context, sessionID string, call ToolCall) Message {
	if l.metrics != nil {
		l.metrics.ToolCallsTotal.Add(ctx, 1)
	}
	result, err := l.dispatcher.Dispatch(ctx, call.Name, call.Args)
	if err != nil {
		if l.metrics != nil {
			l.metrics.ToolCallErrors.Add(ctx, 1)
		}
		l.logger.Warn("tool call failed", "session_id", sessionID, "tool", call.Name, "error", err)
		result = fmt.Sprintf("The %s tool failed: %v. Tell the user what went wrong, or try a corrected call.", call.Name, err)
	}
	return Message{
		Role:       RoleTool,
		Content:    result,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func (l *Loop) completeWithRetry(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt < l.cfg.ProviderAttempts; attempt++ {
		if attempt > 0 {
			if err := l.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
		callStart := l.now()
		completion, err := l.provider.Complete(ctx, req)
		if l.metrics != nil {
			l.metrics.LLMCallDuration.Record(ctx, l.now().Sub(callStart).Seconds())
		}
		if err == nil {
			return completion, nil
		}
		lastErr = err
		l.logger.Warn("completion attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("all %d completion attempts failed: %w", l.cfg.ProviderAttempts, lastErr)
}

// commitTurn persists the whole turn atomically. A failed commit loses the
// turn from history but the reply still goes out; the next turn simply won't
// remember this one.
func (l *Loop) commitTurn(ctx context.Context, sessionID string, turn []Message) {
	rows := make([]persistence.Message, 0, len(turn))
	for _, m := range turn {
		row := persistence.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err == nil {
				row.ToolCalls = string(data)
			}
		}
		rows = append(rows, row)
	}
	if err := l.store.AppendTurn(ctx, sessionID, rows); err != nil {
		l.logger.Error("commit turn failed", "session_id", sessionID, "error", err)
	}
}

// trimToTurnStart drops leading rows until the window opens with a user
// message. A row-count limit can cut a stored turn in half, and a window that
// starts with a tool result (or an assistant tool-call row) whose counterpart
// fell off is rejected by providers outright.
func trimToTurnStart(items []persistence.Message) []persistence.Message {
	for i, item := range items {
		if item.Role == RoleUser {
			return items[i:]
		}
	}
	return nil
}

// historyToMessages rebuilds provider messages from stored rows.
func historyToMessages(items []persistence.Message) []Message {
	var out []Message
	for _, item := range items {
		m := Message{
			Role:       item.Role,
			Content:    item.Content,
			ToolCallID: item.ToolCallID,
			ToolName:   item.ToolName,
		}
		if item.ToolCalls != "" {
			_ = json.Unmarshal([]byte(item.ToolCalls), &m.ToolCalls)
		}
		out = append(out, m)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
