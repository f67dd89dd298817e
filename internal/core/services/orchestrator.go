package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bewo-chat/internal/adapters/metrics"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

// Reply strategies recorded on every bot message
const (
	StrategyAgentGate = "agent_gate"
	StrategyTemplate  = "template"
	StrategyLLM       = "llm"
	StrategyFunction  = "function"
	StrategyGeneral   = "general"
)

// Default customer-facing texts
const (
	DefaultGeneralPrompt = "Bạn là nhân viên tư vấn bán hàng của một cửa hàng thời trang. " +
		"Trả lời ngắn gọn, lịch sự bằng tiếng Việt, xưng em và gọi khách là chị. " +
		"Nếu không chắc chắn, hãy mời khách để lại số điện thoại để nhân viên liên hệ."
	DefaultFallbackText = "Xin lỗi chị, hệ thống đang gặp lỗi. Chị vui lòng thử lại sau ạ 🙏"
	DefaultNoAnswerText = "Xin lỗi, em chưa hiểu ý chị ạ 😊"

	jsonReplyInstruction = `Luôn trả lời bằng đúng một JSON object dạng {"reply": "<câu trả lời>", "quick_replies": ["<gợi ý>"]}. ` +
		`quick_replies có thể rỗng. Không viết gì ngoài JSON.`
)

// OrchestratorConfig tunes the LLM branches
type OrchestratorConfig struct {
	Model               string
	MaxTokens           int
	Temperature         float32
	GeneralSystemPrompt string
	FallbackText        string
	NoAnswerText        string
	HistoryLimit        int
	LLMTimeout          time.Duration
	InputCostPer1K      float64 // USD per 1000 prompt tokens
	OutputCostPer1K     float64 // USD per 1000 completion tokens
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.GeneralSystemPrompt == "" {
		c.GeneralSystemPrompt = DefaultGeneralPrompt
	}
	if c.FallbackText == "" {
		c.FallbackText = DefaultFallbackText
	}
	if c.NoAnswerText == "" {
		c.NoAnswerText = DefaultNoAnswerText
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 15 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	return c
}

// OrchestratorDeps are the ports the orchestrator drives.
// Functions, Switch, Events and Usage are optional.
type OrchestratorDeps struct {
	Conversations ports.ConversationStore
	Scenarios     ports.ScenarioStore
	LLM           ports.LLMGateway
	Locker        ports.ConversationLocker
	Functions     *FunctionRegistry
	Switch        *LLMSwitch
	Events        ports.EventPublisher
	Usage         ports.UsageRepository
}

// Orchestrator turns one canonical inbound message into at most one bot reply
type Orchestrator struct {
	conversations ports.ConversationStore
	scenarios     ports.ScenarioStore
	llm           ports.LLMGateway
	locker        ports.ConversationLocker
	functions     *FunctionRegistry
	llmSwitch     *LLMSwitch
	events        ports.EventPublisher
	usage         ports.UsageRepository
	cfg           OrchestratorConfig
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	functions := deps.Functions
	if functions == nil {
		functions = NewFunctionRegistry()
	}
	return &Orchestrator{
		conversations: deps.Conversations,
		scenarios:     deps.Scenarios,
		llm:           deps.LLM,
		locker:        deps.Locker,
		functions:     functions,
		llmSwitch:     deps.Switch,
		events:        deps.Events,
		usage:         deps.Usage,
		cfg:           cfg.withDefaults(),
	}
}

type turnReply struct {
	text           string
	quickReplies   []string
	strategy       string
	scenarioID     string
	tokens         int
	fallbackReason string // empty unless a safe fallback text was used
}

// HandleInbound runs one turn: resolve, agent gate, match, respond, persist.
// Only persistence problems are returned (as domain.ErrPersistenceFailed);
// a redelivered external message id yields domain.ErrDuplicateMessage.
func (o *Orchestrator) HandleInbound(ctx context.Context, in domain.InboundMessage) (*domain.OutboundMessage, error) {
	start := time.Now()

	if !in.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, in.Channel)
	}
	if strings.TrimSpace(in.ExternalSessionID) == "" {
		return nil, fmt.Errorf("%w: external_session_id is required", domain.ErrInvalidInput)
	}

	unlock, err := o.locker.Lock(ctx, ConversationLockKey(in.Channel, in.ExternalSessionID))
	if err != nil {
		return nil, domain.NewPersistenceError("lock conversation", err)
	}
	defer unlock()

	// Live read inside the lock: agent_enabled is never cached
	conv, err := o.conversations.GetOrCreateConversation(ctx, in.Channel, in.ExternalSessionID, in.CustomerName)
	if err != nil {
		return nil, domain.NewPersistenceError("resolve conversation", err)
	}

	var customerMsg *domain.Message
	if in.ExternalMessageID != "" {
		exists, err := o.conversations.ExternalMessageExists(ctx, conv.ID, in.ExternalMessageID)
		if err != nil {
			return nil, domain.NewPersistenceError("check external message", err)
		}
		if exists {
			customerMsg, err = o.unanswered(ctx, conv.ID, in.ExternalMessageID)
			if err != nil {
				return nil, domain.NewPersistenceError("check unanswered message", err)
			}
			if customerMsg == nil {
				return nil, domain.ErrDuplicateMessage
			}
			slog.Info("Resuming turn whose reply was never stored",
				"channel", in.Channel,
				"conversation_id", conv.ID,
				"message_id", in.ExternalMessageID,
			)
		}
	}

	if customerMsg == nil {
		msgType := in.MessageType
		if msgType == "" {
			msgType = domain.MessageTypeText
		}
		customerMsg, err = o.conversations.AppendMessage(ctx, domain.NewMessage{
			ConversationID:    conv.ID,
			SenderType:        domain.SenderTypeCustomer,
			MessageType:       msgType,
			Content:           domain.MessageContent{Text: in.Text},
			ExternalMessageID: in.ExternalMessageID,
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateMessage) {
				return nil, err
			}
			return nil, domain.NewPersistenceError("append customer message", err)
		}
		o.publish(domain.EventMessageCreated, conv, customerMsg)
	}

	if conv.AgentEnabled {
		slog.Info("Agent gate held turn",
			"channel", in.Channel,
			"conversation_id", conv.ID,
			"strategy", StrategyAgentGate,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		metrics.RecordTurn(string(in.Channel), StrategyAgentGate, false, time.Since(start))
		return &domain.OutboundMessage{
			ConversationID: conv.ID,
			QuickReplies:   []string{},
			Strategy:       StrategyAgentGate,
			AutoReplied:    false,
		}, nil
	}

	reply := o.respond(ctx, conv, customerMsg, in)

	content := domain.MessageContent{
		Text:         reply.text,
		QuickReplies: reply.quickReplies,
		ScenarioID:   reply.scenarioID,
		Strategy:     reply.strategy,
		Tokens:       reply.tokens,
	}
	if reply.fallbackReason != "" {
		content.Attributes = map[string]string{"fallback": reply.fallbackReason}
	}
	botType := domain.MessageTypeText
	if len(reply.quickReplies) > 0 {
		botType = domain.MessageTypeQuickReply
	}
	botMsg, err := o.conversations.AppendMessage(ctx, domain.NewMessage{
		ConversationID: conv.ID,
		SenderType:     domain.SenderTypeBot,
		MessageType:    botType,
		Content:        content,
	})
	if err != nil {
		return nil, domain.NewPersistenceError("append bot message", err)
	}
	o.publish(domain.EventMessageCreated, conv, botMsg)

	duration := time.Since(start)
	slog.Info("Turn completed",
		"channel", in.Channel,
		"conversation_id", conv.ID,
		"strategy", reply.strategy,
		"scenario_id", reply.scenarioID,
		"fallback", reply.fallbackReason,
		"tokens", reply.tokens,
		"duration_ms", duration.Milliseconds(),
	)
	metrics.RecordTurn(string(in.Channel), reply.strategy, reply.fallbackReason != "", duration)

	quickReplies := reply.quickReplies
	if quickReplies == nil {
		quickReplies = []string{}
	}
	return &domain.OutboundMessage{
		ConversationID: conv.ID,
		ResponseText:   reply.text,
		QuickReplies:   quickReplies,
		Strategy:       reply.strategy,
		ScenarioID:     reply.scenarioID,
		BotMessageID:   botMsg.ID,
		AutoReplied:    true,
	}, nil
}

// unanswered returns the stored customer message for externalID when it is
// still the latest message of the conversation, i.e. an earlier attempt
// saved it but never saved a reply. Nil means the turn already completed.
func (o *Orchestrator) unanswered(ctx context.Context, conversationID, externalID string) (*domain.Message, error) {
	last, err := o.conversations.RecentMessages(ctx, conversationID, 1)
	if err != nil {
		return nil, err
	}
	if len(last) == 0 {
		return nil, nil
	}
	m := last[0]
	if m.SenderType != domain.SenderTypeCustomer || m.ExternalMessageID != externalID {
		return nil, nil
	}
	return &m, nil
}

// ConversationLockKey is the serialization key for one customer thread
func ConversationLockKey(channel domain.Channel, externalSessionID string) string {
	return "conv:" + string(channel) + ":" + externalSessionID
}

func (o *Orchestrator) respond(ctx context.Context, conv *domain.Conversation, current *domain.Message, in domain.InboundMessage) turnReply {
	match := o.selectScenario(ctx, in)
	if match == nil {
		if strings.TrimSpace(in.Text) == "" {
			return turnReply{text: o.cfg.NoAnswerText, strategy: StrategyGeneral, fallbackReason: "empty_text"}
		}
		reply := o.callLLM(ctx, conv, current, in, o.cfg.GeneralSystemPrompt)
		reply.strategy = StrategyGeneral
		return reply
	}

	sc := match.Scenario
	vars := templateVars(conv, in)

	switch r := sc.Response.(type) {
	case domain.TemplateResponse:
		return turnReply{
			text:         RenderTemplate(r.Template, vars),
			quickReplies: sc.QuickReplies,
			strategy:     StrategyTemplate,
			scenarioID:   sc.ID,
		}

	case domain.LLMResponse:
		reply := o.callLLM(ctx, conv, current, in, RenderTemplate(r.SystemPrompt, vars))
		reply.strategy = StrategyLLM
		reply.scenarioID = sc.ID
		if len(sc.QuickReplies) > 0 {
			reply.quickReplies = sc.QuickReplies
		}
		return reply

	case domain.FunctionResponse:
		reply := o.runFunction(ctx, conv, in, sc, r.Function)
		reply.strategy = StrategyFunction
		reply.scenarioID = sc.ID
		return reply
	}

	slog.Error("Scenario has no response variant", "scenario_id", sc.ID)
	return turnReply{text: o.cfg.FallbackText, strategy: StrategyGeneral, scenarioID: sc.ID, fallbackReason: "invalid_scenario"}
}

// selectScenario honours an explicit override, otherwise runs the matcher.
// A failing scenario read degrades to "no match" so the turn still answers.
func (o *Orchestrator) selectScenario(ctx context.Context, in domain.InboundMessage) *Match {
	if in.ScenarioID != "" {
		sc, err := o.scenarios.GetScenario(ctx, in.ScenarioID)
		if err == nil {
			return &Match{Scenario: sc}
		}
		slog.Warn("Scenario override not usable, matching instead",
			"scenario_id", in.ScenarioID,
			"error", err,
		)
	}

	scenarios, err := o.scenarios.ListActiveScenarios(ctx)
	if err != nil {
		slog.Error("Failed to load scenarios, treating as no match", "error", err)
		return nil
	}
	return MatchScenario(in.Text, in.Intent, scenarios)
}

func (o *Orchestrator) callLLM(ctx context.Context, conv *domain.Conversation, current *domain.Message, in domain.InboundMessage, systemPrompt string) turnReply {
	if o.llmSwitch != nil && !o.llmSwitch.Enabled() {
		return turnReply{text: o.cfg.FallbackText, fallbackReason: "llm_disabled"}
	}

	req := domain.ChatRequest{
		Model:       o.cfg.Model,
		Messages:    o.buildMessages(ctx, conv, current, in, systemPrompt),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		JSONMode:    true,
	}

	// At most one retry per inbound message, and only for provider failures
	var (
		result *domain.ChatResult
		err    error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		result, err = o.complete(ctx, req)
		if err == nil {
			break
		}
		var llmErr *domain.LLMError
		if attempt == 2 || ctx.Err() != nil || !errors.As(err, &llmErr) || !llmErr.Retryable() {
			break
		}
		slog.Warn("LLM call failed, retrying once",
			"conversation_id", conv.ID,
			"kind", llmErr.Kind,
			"error", err,
		)
	}

	if err != nil {
		kind := string(domain.LLMErrorProvider)
		var llmErr *domain.LLMError
		if errors.As(err, &llmErr) {
			kind = string(llmErr.Kind)
		}
		slog.Error("LLM call failed, using fallback reply",
			"conversation_id", conv.ID,
			"kind", kind,
			"error", err,
		)
		return turnReply{text: o.cfg.FallbackText, fallbackReason: kind}
	}

	o.recordUsage(ctx, conv.ID, result)

	text, quickReplies := parseModelReply(result)
	if text == "" {
		return turnReply{text: o.cfg.NoAnswerText, tokens: result.TotalTokens(), fallbackReason: "empty_reply"}
	}
	return turnReply{text: text, quickReplies: quickReplies, tokens: result.TotalTokens()}
}

// recordUsage appends to the usage ledger. A failed write only costs
// accounting, so the turn carries on.
func (o *Orchestrator) recordUsage(ctx context.Context, conversationID string, result *domain.ChatResult) {
	if result.TotalTokens() == 0 {
		return
	}
	cost := float64(result.PromptTokens)/1000*o.cfg.InputCostPer1K +
		float64(result.CompletionTokens)/1000*o.cfg.OutputCostPer1K
	metrics.RecordLLMCost(result.Provider, result.Model, cost)

	if o.usage == nil {
		return
	}
	err := o.usage.RecordUsage(ctx, &domain.UsageLog{
		ConversationID: conversationID,
		Provider:       result.Provider,
		Model:          result.Model,
		InputTokens:    result.PromptTokens,
		OutputTokens:   result.CompletionTokens,
		Cost:           cost,
	})
	if err != nil {
		slog.Warn("Failed to record LLM usage",
			"conversation_id", conversationID,
			"error", err,
		)
	}
}

func (o *Orchestrator) complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()
	return o.llm.ChatCompletion(callCtx, req)
}

// buildMessages grounds the model with the system prompt and recent history.
// History already ends with the current customer message.
func (o *Orchestrator) buildMessages(ctx context.Context, conv *domain.Conversation, current *domain.Message, in domain.InboundMessage, systemPrompt string) []domain.ChatMessage {
	messages := []domain.ChatMessage{{
		Role:    domain.RoleSystem,
		Content: systemPrompt + "\n\n" + jsonReplyInstruction,
	}}

	history, err := o.conversations.RecentMessages(ctx, conv.ID, o.cfg.HistoryLimit)
	if err != nil {
		slog.Warn("Failed to load history, answering without it",
			"conversation_id", conv.ID,
			"error", err,
		)
		history = nil
	}

	sawCurrent := false
	for _, m := range history {
		if strings.TrimSpace(m.Content.Text) == "" {
			continue
		}
		role := domain.RoleAssistant
		if m.SenderType == domain.SenderTypeCustomer {
			role = domain.RoleUser
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: m.Content.Text})
		if m.ID == current.ID {
			sawCurrent = true
		}
	}
	if !sawCurrent {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: in.Text})
	}
	return messages
}

// parseModelReply reads {"reply", "quick_replies"}; prose answers, and
// prose that merely quotes a JSON list, are used as-is
func parseModelReply(result *domain.ChatResult) (string, []string) {
	obj, ok := result.JSON.(map[string]any)
	if !ok {
		return strings.TrimSpace(result.RawResponse), nil
	}
	var text string
	for _, key := range []string{"reply", "response", "message", "text"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			text = strings.TrimSpace(s)
			break
		}
	}
	var quickReplies []string
	if arr, ok := obj["quick_replies"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				quickReplies = append(quickReplies, strings.TrimSpace(s))
			}
		}
	}
	return text, quickReplies
}

func (o *Orchestrator) runFunction(ctx context.Context, conv *domain.Conversation, in domain.InboundMessage, sc *domain.Scenario, name string) turnReply {
	fn, ok := o.functions.Lookup(name)
	if !ok {
		slog.Warn("Unknown scenario function", "scenario_id", sc.ID, "function", name)
		return turnReply{text: o.cfg.FallbackText, fallbackReason: "unknown_function"}
	}

	out, err := fn(ctx, FunctionCall{Conversation: conv, Inbound: in, Scenario: sc})
	if err != nil {
		slog.Error("Scenario function failed",
			"scenario_id", sc.ID,
			"function", name,
			"error", err,
		)
		return turnReply{text: o.cfg.FallbackText, fallbackReason: "function_error"}
	}
	o.publish(domain.EventConversationUpdated, conv, nil)

	text := out.Text
	if text == "" {
		text = o.cfg.NoAnswerText
	}
	quickReplies := out.QuickReplies
	if len(quickReplies) == 0 {
		quickReplies = sc.QuickReplies
	}
	return turnReply{text: text, quickReplies: quickReplies}
}

func (o *Orchestrator) publish(eventType string, conv *domain.Conversation, msg *domain.Message) {
	if o.events == nil {
		return
	}
	ev := domain.Event{
		Type:           eventType,
		ConversationID: conv.ID,
		Channel:        conv.Channel,
		At:             time.Now(),
	}
	if msg != nil {
		ev.Data = msg
	}
	o.events.Publish(ev)
}
