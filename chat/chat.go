// Package chat is the revision side-channel: free-form messages about the
// current phase's draft, answered conversationally by the backend.
//
// Replies are advisory. Nothing here parses a reply into a draft change; a
// revised draft only arrives through a later regenerate.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Greeting opens every transcript.
const Greeting = "Hi! I'm your Codebasics Data Factory Assistant. How can I help you with this data challenge?"

var (
	// ErrNoSession is returned when sending before a session exists.
	ErrNoSession = errors.New("chat requires an active session")
	// ErrEmptyMessage is returned for blank messages.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrConversationReset is returned when Reset ran while a message was
	// in flight. The reply is dropped.
	ErrConversationReset = errors.New("conversation was reset")
)

// Role identifies the author of a transcript message.
type Role string

// Transcript roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role
	Content string
	Phase   int
	Time    time.Time
}

// Sender performs the chat stage call. stage.Client implements it.
type Sender interface {
	Chat(ctx context.Context, session, message string, phase int) (string, error)
}

// Channel sends revision messages and keeps the transcript.
type Channel struct {
	sender Sender
	logger *slog.Logger

	mu         sync.Mutex
	transcript []Message
	// generation is bumped by Reset; replies from an older generation
	// are not recorded.
	generation uint64
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// New creates a Channel whose transcript starts with the greeting.
func New(sender Sender, opts ...Option) *Channel {
	c := &Channel{
		sender: sender,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transcript = []Message{greeting()}
	return c
}

func greeting() Message {
	return Message{Role: RoleAssistant, Content: Greeting, Time: time.Now()}
}

// Send delivers message for the given phase and returns the reply. The user
// message is recorded even when the call fails so the transcript shows what
// was attempted.
func (c *Channel) Send(ctx context.Context, session, message string, phase int) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if session == "" {
		return "", ErrNoSession
	}

	gen := c.append(Message{Role: RoleUser, Content: message, Phase: phase, Time: time.Now()})

	reply, err := c.sender.Chat(ctx, session, message, phase)
	if !c.current(gen) {
		c.logger.Debug("Dropping chat reply after reset", slog.String("session", session))
		return "", ErrConversationReset
	}
	if err != nil {
		c.logger.Warn("Chat message failed",
			slog.String("session", session),
			slog.Int("phase", phase),
			slog.Any("error", err))
		return "", fmt.Errorf("send chat message: %w", err)
	}

	if !c.appendIn(gen, Message{Role: RoleAssistant, Content: reply, Phase: phase, Time: time.Now()}) {
		return "", ErrConversationReset
	}
	return reply, nil
}

// append records m and returns the generation it was recorded in.
func (c *Channel) append(m Message) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, m)
	return c.generation
}

// appendIn records m only if no Reset happened since gen.
func (c *Channel) appendIn(gen uint64, m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.transcript = append(c.transcript, m)
	return true
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// Transcript returns a copy of the conversation so far.
func (c *Channel) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Reset clears the conversation back to the greeting.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.transcript = []Message{greeting()}
}

// Guidance returns the seed text offered when refining the draft of a
// phase, or "" for phases without a refinable draft.
func Guidance(phase int) string {
	switch phase {
	case 1:
		return "I'd like to refine the problem statement. Please change..."
	case 2:
		return "I'd like to adjust the schema. Can you help me change..."
	case 3:
		return "The data preview needs adjustment. Please update..."
	default:
		return ""
	}
}
