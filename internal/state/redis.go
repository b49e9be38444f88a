package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
	"github.com/john/orchid/internal/window"
)

const (
	DefaultHistoryKey = "orchid:chat:recent"
	DefaultLayoutKey  = "orchid:layout"
)

// RedisHistory keeps the chat window in a Redis list, trimmed on every
// append.
type RedisHistory struct {
	client  redis.Cmdable
	key     string
	maxSize int64
}

func NewRedisHistory(client redis.Cmdable, key string, maxSize int) *RedisHistory {
	if key == "" {
		key = DefaultHistoryKey
	}
	if maxSize <= 0 {
		maxSize = window.DefaultSize
	}
	return &RedisHistory{client: client, key: key, maxSize: int64(maxSize)}
}

func (h *RedisHistory) Append(ctx context.Context, msg message.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	pipe := h.client.Pipeline()
	pipe.RPush(ctx, h.key, data)
	pipe.LTrim(ctx, h.key, -h.maxSize, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, n int) ([]message.ChatMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := h.client.LRange(ctx, h.key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent chat: %w", err)
	}
	return decodeMessages(vals), nil
}

// Apply rewrites the list without the targeted lines.
func (h *RedisHistory) Apply(ctx context.Context, inst message.Instruction) (int, error) {
	vals, err := h.client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read chat history: %w", err)
	}

	kept := make([]any, 0, len(vals))
	for _, v := range vals {
		var m message.ChatMessage
		if err := json.Unmarshal([]byte(v), &m); err == nil && inst.Matches(m) {
			continue
		}
		kept = append(kept, v)
	}

	removed := len(vals) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, h.key)
		if len(kept) > 0 {
			pipe.RPush(ctx, h.key, kept...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rewrite chat history: %w", err)
	}
	return removed, nil
}

func decodeMessages(vals []string) []message.ChatMessage {
	msgs := make([]message.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var m message.ChatMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			slog.Warn("skipping undecodable chat history entry", "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// RedisLayouts stores the layout as a single JSON value.
type RedisLayouts struct {
	client redis.Cmdable
	key    string
}

func NewRedisLayouts(client redis.Cmdable, key string) *RedisLayouts {
	if key == "" {
		key = DefaultLayoutKey
	}
	return &RedisLayouts{client: client, key: key}
}

func (r *RedisLayouts) Load(ctx context.Context) ([]layout.Item, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []layout.Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}

	var st layout.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if st.LayoutItems == nil {
		st.LayoutItems = []layout.Item{}
	}
	return st.LayoutItems, nil
}

func (r *RedisLayouts) Save(ctx context.Context, items []layout.Item) error {
	if items == nil {
		items = []layout.Item{}
	}
	data, err := json.Marshal(layout.State{LayoutItems: items})
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	return nil
}
