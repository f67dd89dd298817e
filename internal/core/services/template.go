package services

import (
	"regexp"

	"bewo-chat/internal/core/domain"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// RenderTemplate substitutes {name} placeholders from vars.
// Unknown placeholders are left as written so admins can spot them.
func RenderTemplate(tpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// templateVars merges the inbound context with conversation fields.
// Explicit context values win over derived ones.
func templateVars(conv *domain.Conversation, in domain.InboundMessage) map[string]string {
	vars := map[string]string{
		"channel":         string(conv.Channel),
		"conversation_id": conv.ID,
	}
	name := in.CustomerName
	if name == "" {
		name = conv.CustomerName
	}
	if name != "" {
		vars["customer_name"] = name
	}
	for k, v := range in.Context {
		vars[k] = v
	}
	return vars
}
