package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBlocklist_SignalRoundTrip(t *testing.T) {
	m := NewBlocklistManager(nil, zap.NewNop())
	assert.False(t, m.IsBlocked("agent-7"))

	m.applySignal("agent-7", true)
	assert.True(t, m.IsBlocked("agent-7"))
	assert.False(t, m.IsBlocked("agent-8"), "block is per-agent")

	// Снятие блокировки возвращает агента в строй
	m.applySignal("agent-7", false)
	assert.False(t, m.IsBlocked("agent-7"))

	// Повторное снятие — no-op, не паника
	m.applySignal("agent-7", false)
	assert.False(t, m.IsBlocked("agent-7"))
}

func TestBlocklist_EmptyIDIgnored(t *testing.T) {
	m := NewBlocklistManager(nil, zap.NewNop())

	m.applySignal("", true)
	assert.False(t, m.IsBlocked(""), "signal without agent id must not mutate state")
}
