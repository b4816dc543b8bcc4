package gateway

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Handler processes one inbound user message and returns the reply text.
type Handler func(ctx context.Context, chatID, text string) string

// confirmations tracks in-flight yes/no prompts per chat. A reply of
// "yes"/"no" in a chat with a pending prompt resolves it instead of
// becoming a new goal.
type confirmations struct {
	mu      sync.Mutex
	pending map[string]chan bool
	timeout time.Duration
}

func newConfirmations(timeout time.Duration) *confirmations {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &confirmations{
		pending: make(map[string]chan bool),
		timeout: timeout,
	}
}

// begin registers a pending prompt for the chat, replacing any stale one.
func (c *confirmations) begin(chatID string) chan bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan bool, 1)
	c.pending[chatID] = ch
	return ch
}

// await blocks for the reply, treating timeout as denial.
func (c *confirmations) await(chatID string, ch chan bool) bool {
	defer func() {
		c.mu.Lock()
		if c.pending[chatID] == ch {
			delete(c.pending, chatID)
		}
		c.mu.Unlock()
	}()

	select {
	case ok := <-ch:
		return ok
	case <-time.After(c.timeout):
		return false
	}
}

// resolve consumes a yes/no reply for a pending prompt. It reports whether
// the message was a confirmation answer.
func (c *confirmations) resolve(chatID, text string) bool {
	answer := strings.ToLower(strings.TrimSpace(text))
	var verdict bool
	switch answer {
	case "yes", "y", "approve", "ok":
		verdict = true
	case "no", "n", "deny", "cancel":
		verdict = false
	default:
		return false
	}

	c.mu.Lock()
	ch, ok := c.pending[chatID]
	if ok {
		delete(c.pending, chatID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case ch <- verdict:
	default:
	}
	return true
}
