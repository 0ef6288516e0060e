package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// Memory is an in-process platform. It keeps posted messages in a map and
// supports failure injection; used by tests and dry runs.
type Memory struct {
	name models.Platform

	mu       sync.Mutex
	seq      int
	messages map[string]string
	profiles map[string]Profile

	postErr   error
	editErr   error
	deleteErr error
	onPost    func(content string)

	posts, edits, deletes int
}

func NewMemory(name models.Platform) *Memory {
	return &Memory{
		name:     name,
		messages: make(map[string]string),
		profiles: make(map[string]Profile),
	}
}

// FailPosts makes every following PostMessage return err (nil clears it)
func (m *Memory) FailPosts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postErr = err
}

func (m *Memory) FailEdits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editErr = err
}

func (m *Memory) FailDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// OnPost installs a hook run at the start of every PostMessage, outside the lock
func (m *Memory) OnPost(fn func(content string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPost = fn
}

func (m *Memory) AddProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *Memory) Name() models.Platform { return m.name }

func (m *Memory) PostMessage(_ context.Context, content string, _ PostOptions) (string, error) {
	m.mu.Lock()
	hook := m.onPost
	m.mu.Unlock()
	if hook != nil {
		hook(content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.posts++
	if m.postErr != nil {
		return "", m.postErr
	}
	m.seq++
	id := fmt.Sprintf("%s-%d", m.name, m.seq)
	m.messages[id] = content
	return id, nil
}

func (m *Memory) EditMessage(_ context.Context, messageID, content string, _ PostOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.edits++
	if m.editErr != nil {
		return m.editErr
	}
	current, ok := m.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if current == content {
		return ErrNotModified
	}
	m.messages[messageID] = content
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.messages[messageID]; !ok {
		return ErrMessageNotFound
	}
	delete(m.messages, messageID)
	return nil
}

func (m *Memory) GetUserInfo(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) BuildUserMention(u models.User) string {
	return Mention(m.name, u)
}

// Message returns the stored content of a posted message
func (m *Memory) Message(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.messages[id]
	return c, ok
}

// Len is the number of live messages
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *Memory) Posts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts
}

func (m *Memory) Edits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits
}

func (m *Memory) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}
