package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobEvent is the progress message published for each job transition.
type JobEvent struct {
	JobID    string    `json:"job_id"`
	BookID   string    `json:"book_id"`
	Scope    string    `json:"scope"`
	Kind     string    `json:"kind"`
	Status   string    `json:"status"`
	Stage    string    `json:"stage"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

func (c *Client) Publish(ctx context.Context, ev JobEvent) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.channel, raw).Err()
}

// Subscribe forwards events to onEvent until ctx is done.
func (c *Client) Subscribe(ctx context.Context, onEvent func(JobEvent)) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	sub := c.rdb.Subscribe(ctx, c.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					c.log.Warn("bad job event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
