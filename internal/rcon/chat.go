package rcon

import (
	"sync"
	"time"
)

// ChatMessage is one line pushed by the server on the chat stream
type ChatMessage struct {
	Text       string
	ReceivedAt time.Time
}

// ChatBuffer collects chat stream packets until they are drained
type ChatBuffer struct {
	mu       sync.Mutex
	messages []ChatMessage
}

// Append stores a message; empty text is ignored
func (b *ChatBuffer) Append(text string, at time.Time) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, ChatMessage{Text: text, ReceivedAt: at})
}

// Drain returns all buffered messages and empties the buffer
func (b *ChatBuffer) Drain() []ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.messages
	b.messages = nil
	return out
}

// Len returns the number of buffered messages
func (b *ChatBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
