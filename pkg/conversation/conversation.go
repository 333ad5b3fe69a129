// Package conversation keeps the ordered message history of a multi-turn chat.
package conversation

import (
	"slices"

	"GoGate/pkg/types"
)

// Conversation is an append-only list of messages in turn order.
// It belongs to one workflow and is not safe for concurrent use.
type Conversation struct {
	messages []types.Message
}

// New starts a conversation with the given opening messages.
func New(msgs ...types.Message) *Conversation {
	return &Conversation{messages: slices.Clone(msgs)}
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg types.Message) {
	c.messages = append(c.messages, msg)
}

// History returns a copy of the messages in order. Changing the returned
// slice does not affect the conversation.
func (c *Conversation) History() []types.Message {
	return slices.Clone(c.messages)
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Last returns the most recent message, if any.
func (c *Conversation) Last() (types.Message, bool) {
	if len(c.messages) == 0 {
		return types.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}
