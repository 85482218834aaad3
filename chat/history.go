package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/schmitech/orbit/core"
)

const historyKeyPrefix = "chat:history:"

// defaultHistoryLimit caps stored turns per session. Older turns roll off.
const defaultHistoryLimit = 20

// historyStore persists recent conversation turns per session. History is
// best-effort: storage failures degrade to an empty history, never to a
// failed chat request.
type historyStore struct {
	mem    core.Memory
	ttl    time.Duration
	limit  int
	logger core.Logger
}

func newHistoryStore(mem core.Memory, ttl time.Duration, logger core.Logger) *historyStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &historyStore{mem: mem, ttl: ttl, limit: defaultHistoryLimit, logger: logger}
}

func (h *historyStore) load(ctx context.Context, sessionID string) []core.ChatMessage {
	if h.mem == nil || sessionID == "" {
		return nil
	}
	raw, err := h.mem.Get(ctx, historyKeyPrefix+sessionID)
	if err != nil {
		h.logger.Warn("Chat history read failed", map[string]interface{}{
			"operation": "chat_history",
			"session":   sessionID,
			"error":     err.Error(),
		})
		return nil
	}
	if raw == "" {
		return nil
	}
	var msgs []core.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		h.logger.Warn("Chat history corrupt, starting fresh", map[string]interface{}{
			"operation": "chat_history",
			"session":   sessionID,
		})
		return nil
	}
	return msgs
}

func (h *historyStore) append(ctx context.Context, sessionID string, turns ...core.ChatMessage) {
	if h.mem == nil || sessionID == "" {
		return
	}
	msgs := append(h.load(ctx, sessionID), turns...)
	if len(msgs) > h.limit {
		msgs = msgs[len(msgs)-h.limit:]
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	if err := h.mem.Set(ctx, historyKeyPrefix+sessionID, string(data), h.ttl); err != nil {
		h.logger.Warn("Chat history write failed", map[string]interface{}{
			"operation": "chat_history",
			"session":   sessionID,
			"error":     err.Error(),
		})
	}
}
