package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

// Built-in function scenario names
const (
	FuncHandoffToAgent    = "handoff_to_agent"
	FuncResetConversation = "reset_conversation"
)

// FunctionCall is what a function scenario sees of the turn
type FunctionCall struct {
	Conversation *domain.Conversation
	Inbound      domain.InboundMessage
	Scenario     *domain.Scenario
}

// FunctionReply is the text a function scenario answers with
type FunctionReply struct {
	Text         string
	QuickReplies []string
}

// ScenarioFunc implements a response_type=function scenario
type ScenarioFunc func(ctx context.Context, call FunctionCall) (FunctionReply, error)

// FunctionRegistry resolves function scenarios by name
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]ScenarioFunc
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]ScenarioFunc)}
}

// Register adds or replaces a handler
func (r *FunctionRegistry) Register(name string, fn ScenarioFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the handler for name
func (r *FunctionRegistry) Lookup(name string) (ScenarioFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered handlers, sorted
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default texts for the built-in functions
const (
	DefaultHandoffText = "Dạ em đã chuyển cuộc trò chuyện cho nhân viên tư vấn, chị đợi em một chút nhé ạ 🙏"
	DefaultResetText   = "Dạ em có thể giúp gì thêm cho chị ạ? 😊"
)

// NewDefaultFunctionRegistry registers handoff_to_agent and reset_conversation
func NewDefaultFunctionRegistry(store ports.ConversationStore) *FunctionRegistry {
	r := NewFunctionRegistry()

	r.Register(FuncHandoffToAgent, func(ctx context.Context, call FunctionCall) (FunctionReply, error) {
		if _, err := store.SetAgentEnabled(ctx, call.Conversation.ID, true); err != nil {
			return FunctionReply{}, fmt.Errorf("handoff: %w", err)
		}
		return FunctionReply{Text: DefaultHandoffText}, nil
	})

	r.Register(FuncResetConversation, func(ctx context.Context, call FunctionCall) (FunctionReply, error) {
		open := domain.ConversationStatusOpen
		if _, err := store.UpdateConversation(ctx, call.Conversation.ID, domain.ConversationPatch{Status: &open}); err != nil {
			return FunctionReply{}, fmt.Errorf("reset: %w", err)
		}
		return FunctionReply{Text: DefaultResetText}, nil
	})

	return r
}
