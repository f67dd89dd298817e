package services

import (
	"log/slog"
	"sync"
	"time"
)

// LLMSwitch is the operator kill switch for model calls.
// While engaged every LLM branch answers with the fallback reply.
type LLMSwitch struct {
	mu        sync.RWMutex
	disabled  bool
	changedBy string
	changedAt time.Time
	reason    string
}

// LLMSwitchStatus is the admin view of the switch
type LLMSwitchStatus struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

func NewLLMSwitch() *LLMSwitch {
	return &LLMSwitch{}
}

// Enabled reports whether model calls are allowed
func (s *LLMSwitch) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabled
}

// Disable stops all model calls until Enable
func (s *LLMSwitch) Disable(reason, by string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disabled = true
	s.reason = reason
	s.changedBy = by
	s.changedAt = time.Now()

	slog.Warn("🚨 LLM calls disabled",
		"reason", reason,
		"changed_by", by,
	)
}

// Enable re-allows model calls
func (s *LLMSwitch) Enable(by string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var offFor time.Duration
	if s.disabled {
		offFor = time.Since(s.changedAt)
	}
	s.disabled = false
	s.reason = ""
	s.changedBy = by
	s.changedAt = time.Now()

	slog.Info("✅ LLM calls enabled",
		"changed_by", by,
		"disabled_for", offFor,
	)
}

// Status returns a snapshot for the admin API
func (s *LLMSwitch) Status() LLMSwitchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return LLMSwitchStatus{
		Enabled:   !s.disabled,
		Reason:    s.reason,
		ChangedBy: s.changedBy,
		ChangedAt: s.changedAt,
	}
}
