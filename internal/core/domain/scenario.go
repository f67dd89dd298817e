package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResponseType selects how a matched scenario produces its reply
type ResponseType string

const (
	ResponseTypeTemplate ResponseType = "template"
	ResponseTypeLLM      ResponseType = "llm"
	ResponseTypeFunction ResponseType = "function"
)

// ScenarioResponse is the tagged variant carried by a Scenario.
// Exactly one of TemplateResponse, LLMResponse, FunctionResponse.
type ScenarioResponse interface {
	ResponseType() ResponseType
}

// TemplateResponse renders Template with placeholder substitution
type TemplateResponse struct {
	Template string
}

func (TemplateResponse) ResponseType() ResponseType { return ResponseTypeTemplate }

// LLMResponse grounds the model with a scenario-specific system prompt
type LLMResponse struct {
	SystemPrompt string
}

func (LLMResponse) ResponseType() ResponseType { return ResponseTypeLLM }

// FunctionResponse names a handler in the function registry
type FunctionResponse struct {
	Function string
}

func (FunctionResponse) ResponseType() ResponseType { return ResponseTypeFunction }

// Scenario is an admin-configured response rule
type Scenario struct {
	ID              string
	Name            string
	TriggerKeywords []string
	Intent          string
	Priority        int
	Response        ScenarioResponse
	QuickReplies    []string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the invariants an admin write must satisfy
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	hasKeyword := false
	for _, kw := range s.TriggerKeywords {
		if strings.TrimSpace(kw) != "" {
			hasKeyword = true
			break
		}
	}
	if !hasKeyword && strings.TrimSpace(s.Intent) == "" {
		return fmt.Errorf("%w: at least one trigger keyword or an intent is required", ErrInvalidScenario)
	}
	switch r := s.Response.(type) {
	case TemplateResponse:
		if strings.TrimSpace(r.Template) == "" {
			return fmt.Errorf("%w: response_template is required for template scenarios", ErrInvalidScenario)
		}
	case LLMResponse:
		if strings.TrimSpace(r.SystemPrompt) == "" {
			return fmt.Errorf("%w: llm_system_prompt is required for llm scenarios", ErrInvalidScenario)
		}
	case FunctionResponse:
		if strings.TrimSpace(r.Function) == "" {
			return fmt.Errorf("%w: function is required for function scenarios", ErrInvalidScenario)
		}
	default:
		return fmt.Errorf("%w: unknown response type", ErrInvalidScenario)
	}
	return nil
}

// ScenarioRecord is the flat wire/storage shape of a Scenario
type ScenarioRecord struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	TriggerKeywords  []string     `json:"trigger_keywords"`
	Intent           string       `json:"intent,omitempty"`
	Priority         int          `json:"priority"`
	ResponseType     ResponseType `json:"response_type"`
	ResponseTemplate string       `json:"response_template,omitempty"`
	LLMSystemPrompt  string       `json:"llm_system_prompt,omitempty"`
	Function         string       `json:"function,omitempty"`
	QuickReplies     []string     `json:"quick_replies"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ToScenario builds the tagged variant; unknown response types are rejected
func (r ScenarioRecord) ToScenario() (Scenario, error) {
	s := Scenario{
		ID:              r.ID,
		Name:            r.Name,
		TriggerKeywords: r.TriggerKeywords,
		Intent:          r.Intent,
		Priority:        r.Priority,
		QuickReplies:    r.QuickReplies,
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	switch r.ResponseType {
	case ResponseTypeTemplate:
		s.Response = TemplateResponse{Template: r.ResponseTemplate}
	case ResponseTypeLLM:
		s.Response = LLMResponse{SystemPrompt: r.LLMSystemPrompt}
	case ResponseTypeFunction:
		s.Response = FunctionResponse{Function: r.Function}
	default:
		return Scenario{}, fmt.Errorf("%w: response_type %q", ErrInvalidScenario, r.ResponseType)
	}
	return s, nil
}

// Record flattens the scenario for storage and JSON
func (s Scenario) Record() ScenarioRecord {
	r := ScenarioRecord{
		ID:              s.ID,
		Name:            s.Name,
		TriggerKeywords: s.TriggerKeywords,
		Intent:          s.Intent,
		Priority:        s.Priority,
		QuickReplies:    s.QuickReplies,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if r.TriggerKeywords == nil {
		r.TriggerKeywords = []string{}
	}
	if r.QuickReplies == nil {
		r.QuickReplies = []string{}
	}
	switch v := s.Response.(type) {
	case TemplateResponse:
		r.ResponseType = ResponseTypeTemplate
		r.ResponseTemplate = v.Template
	case LLMResponse:
		r.ResponseType = ResponseTypeLLM
		r.LLMSystemPrompt = v.SystemPrompt
	case FunctionResponse:
		r.ResponseType = ResponseTypeFunction
		r.Function = v.Function
	}
	return r
}
