package lane

// tokens estimates the token cost of text as ceil(len/charsPerToken).
func (m *Manager) tokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + m.limits.CharsPerToken - 1) / m.limits.CharsPerToken
}

func (m *Manager) historyTokens(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		total += m.tokens(msg.Content)
	}
	return total
}

// tokenLimit resolves the budget for a model, falling back to the global
// default when no per-model override is configured.
func (m *Manager) tokenLimit(model string) int {
	if limit, ok := m.limits.ModelTokenLimits[model]; ok {
		return limit
	}
	return m.limits.DefaultTokenLimit
}
