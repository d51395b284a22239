/*
Conversation storage for the Concierge agent.

Conversations are ordered, append-only sequences of turns. The reasoning
loop never reaches into the store: it is handed the history slice for one
request and returns the new turns, which the HTTP layer appends. The store
interface exists so the in-memory implementation can be swapped for a
durable one without touching the loop.
*/
package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Turn roles. Tool turns carry capability observations folded back into
// context; system turns carry the uploaded-document payloads.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is one ordered conversation with thread-safe access.
type Conversation struct {
	ID      string    `json:"id"`
	Turns   []Turn    `json:"turns"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	// document holds the text of the most recently uploaded document, kept
	// alongside the system turn so the document QA capability can retrieve
	// it without re-parsing history.
	document string
	mutex    sync.RWMutex
}

// ConversationStore manages conversations across requests.
type ConversationStore interface {
	GetOrCreate(id string) *Conversation
	Get(id string) (*Conversation, bool)
	Delete(id string) bool
	List() []*Conversation
	Stats() map[string]any
}

// AppendTurns appends a batch of turns produced by one reasoning loop run.
func (c *Conversation) AppendTurns(turns []Turn) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.Turns = append(c.Turns, turns...)
	c.Updated = time.Now()
}

// History returns a copy of the conversation's turns.
func (c *Conversation) History() []Turn {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	history := make([]Turn, len(c.Turns))
	copy(history, c.Turns)
	return history
}

// RecentTurns returns up to limit most recent turns in order. The chat
// handlers use it to hand the loop a bounded context window.
func (c *Conversation) RecentTurns(limit int) []Turn {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if len(c.Turns) <= limit {
		turns := make([]Turn, len(c.Turns))
		copy(turns, c.Turns)
		return turns
	}
	turns := make([]Turn, limit)
	copy(turns, c.Turns[len(c.Turns)-limit:])
	return turns
}

// Clear removes all turns and any attached document, returning the number
// of turns removed.
func (c *Conversation) Clear() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := len(c.Turns)
	c.Turns = nil
	c.document = ""
	c.Updated = time.Now()
	return count
}

// AttachDocument folds an uploaded document into the conversation as a
// system turn and retains the text for the document QA capability.
func (c *Conversation) AttachDocument(filename, text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.document = text
	c.Turns = append(c.Turns, Turn{
		Role:      RoleSystem,
		Content:   fmt.Sprintf("User uploaded a document: %s\n\n%s", filename, text),
		Timestamp: time.Now(),
	})
	c.Updated = time.Now()
}

// Document returns the text of the most recently uploaded document, if any.
func (c *Conversation) Document() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.document
}

// Title derives a short display title from the first user turn.
func (c *Conversation) Title() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, turn := range c.Turns {
		if turn.Role == RoleUser {
			title := strings.TrimSpace(turn.Content)
			if len(title) > 40 {
				title = title[:40]
			}
			return title
		}
	}
	return "New Chat"
}

// InMemoryStore is the default ConversationStore: conversations live for the
// process lifetime and expire after inactivity.
type InMemoryStore struct {
	conversations   map[string]*Conversation
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	logger          *logrus.Logger
}

// NewInMemoryStore creates a store and starts its background cleanup sweep.
func NewInMemoryStore(maxAge, cleanupInterval time.Duration, logger *logrus.Logger) *InMemoryStore {
	store := &InMemoryStore{
		conversations:   make(map[string]*Conversation),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		logger:          logger,
	}

	go store.cleanupExpired()

	return store
}

// GetOrCreate returns the conversation with the given id, creating it (with
// a fresh uuid when id is empty) if it does not exist.
func (s *InMemoryStore) GetOrCreate(id string) *Conversation {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if id == "" {
		id = uuid.NewString()
	}

	conversation, exists := s.conversations[id]
	if !exists {
		now := time.Now()
		conversation = &Conversation{ID: id, Created: now, Updated: now}
		s.conversations[id] = conversation
		s.logger.WithField("conversationId", id).Info("Created new conversation")
	} else {
		conversation.Updated = time.Now()
	}

	return conversation
}

// Get returns an existing conversation without creating one.
func (s *InMemoryStore) Get(id string) (*Conversation, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	conversation, exists := s.conversations[id]
	return conversation, exists
}

// Delete removes a conversation, reporting whether it existed.
func (s *InMemoryStore) Delete(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, exists := s.conversations[id]
	if exists {
		delete(s.conversations, id)
		s.logger.WithField("conversationId", id).Info("Conversation deleted")
	}
	return exists
}

// List returns a snapshot of all conversations, newest activity first.
func (s *InMemoryStore) List() []*Conversation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	conversations := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		conversations = append(conversations, c)
	}
	for i := 0; i < len(conversations); i++ {
		for j := i + 1; j < len(conversations); j++ {
			if conversations[j].Updated.After(conversations[i].Updated) {
				conversations[i], conversations[j] = conversations[j], conversations[i]
			}
		}
	}
	return conversations
}

// Stats reports conversation and turn counts for the status endpoint.
func (s *InMemoryStore) Stats() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	totalTurns := 0
	for _, c := range s.conversations {
		c.mutex.RLock()
		totalTurns += len(c.Turns)
		c.mutex.RUnlock()
	}

	return map[string]any{
		"totalConversations": len(s.conversations),
		"totalTurns":         totalTurns,
	}
}

// cleanupExpired periodically removes conversations idle longer than maxAge.
func (s *InMemoryStore) cleanupExpired() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mutex.Lock()
		now := time.Now()
		var expired []string
		for id, conversation := range s.conversations {
			if now.Sub(conversation.Updated) > s.maxAge {
				expired = append(expired, id)
			}
		}
		for _, id := range expired {
			delete(s.conversations, id)
		}
		if len(expired) > 0 {
			s.logger.WithFields(logrus.Fields{
				"expired":   len(expired),
				"remaining": len(s.conversations),
			}).Info("Cleaned up expired conversations")
		}
		s.mutex.Unlock()
	}
}

var _ ConversationStore = (*InMemoryStore)(nil)
