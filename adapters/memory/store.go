package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/model"
)

// Repositories holds all in-memory repository implementations.
type Repositories struct {
	Commands    *CommandStore
	DeadLetters *DeadLetterStore
	Settings    *SettingStore
}

// NewRepositories creates empty in-memory repositories.
func NewRepositories() *Repositories {
	return &Repositories{
		Commands:    NewCommandStore(),
		DeadLetters: NewDeadLetterStore(),
		Settings:    NewSettingStore(),
	}
}

// CommandStore implements hublink.CommandRepository in memory.
type CommandStore struct {
	mu       sync.Mutex
	nextID   int64
	commands map[int64]model.QueuedCommand
}

// NewCommandStore creates an empty CommandStore.
func NewCommandStore() *CommandStore {
	return &CommandStore{commands: make(map[int64]model.QueuedCommand)}
}

// Load retrieves a queued command by ID.
func (s *CommandStore) Load(_ context.Context, id int64) (model.QueuedCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return model.QueuedCommand{}, hublink.ErrNoData
	}
	return cmd, nil
}

// Save creates or updates a queued command.
func (s *CommandStore) Save(_ context.Context, m *model.QueuedCommand) (*model.QueuedCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if _, ok := s.commands[m.ID]; !ok {
		return m, hublink.ErrNoData
	}
	s.commands[m.ID] = *m
	return m, nil
}

// Delete removes a queued command.
func (s *CommandStore) Delete(_ context.Context, m *model.QueuedCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.commands, m.ID)
	return nil
}

// FindAll retrieves every queued command, oldest first.
func (s *CommandStore) FindAll(ctx context.Context) ([]model.QueuedCommand, error) {
	return s.FindOldest(ctx, 0)
}

// FindOldest retrieves up to limit queued commands, oldest first.
// A limit of 0 returns all of them.
func (s *CommandStore) FindOldest(_ context.Context, limit int) ([]model.QueuedCommand, error) {
	s.mu.Lock()
	cmds := make([]model.QueuedCommand, 0, len(s.commands))
	for _, cmd := range s.commands {
		cmds = append(cmds, cmd)
	}
	s.mu.Unlock()

	if len(cmds) == 0 {
		return nil, hublink.ErrNoData
	}

	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].Before(&cmds[j])
	})
	if limit > 0 && len(cmds) > limit {
		cmds = cmds[:limit]
	}
	return cmds, nil
}

// Count returns the number of queued commands.
func (s *CommandStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands), nil
}

// DeadLetterStore implements hublink.DeadLetterRepository in memory.
type DeadLetterStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.DeadCommand
}

// NewDeadLetterStore creates an empty DeadLetterStore.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{items: make(map[int64]model.DeadCommand)}
}

// Load retrieves an entry by ID.
func (s *DeadLetterStore) Load(_ context.Context, id int64) (model.DeadCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dead, ok := s.items[id]
	if !ok {
		return model.DeadCommand{}, hublink.ErrNoData
	}
	return dead, nil
}

// Save creates or updates an entry.
func (s *DeadLetterStore) Save(_ context.Context, m model.DeadCommand) (model.DeadCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if _, ok := s.items[m.ID]; !ok {
		return m, hublink.ErrNoData
	}
	s.items[m.ID] = m
	return m, nil
}

// Delete removes an entry.
func (s *DeadLetterStore) Delete(_ context.Context, m model.DeadCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, m.ID)
	return nil
}

// FindUnresolved retrieves unresolved entries, oldest first.
func (s *DeadLetterStore) FindUnresolved(_ context.Context, limit int) ([]model.DeadCommand, error) {
	return s.find(limit, func(d *model.DeadCommand) bool { return !d.IsResolved })
}

// FindByCommandID retrieves the entry for a command id.
func (s *DeadLetterStore) FindByCommandID(_ context.Context, commandID string) (model.DeadCommand, error) {
	items, err := s.find(1, func(d *model.DeadCommand) bool { return d.CommandID == commandID })
	if err != nil {
		return model.DeadCommand{}, err
	}
	return items[0], nil
}

// FindOlderThan retrieves entries dead-lettered longer ago than threshold.
func (s *DeadLetterStore) FindOlderThan(_ context.Context, threshold time.Duration, limit int) ([]model.DeadCommand, error) {
	return s.find(limit, func(d *model.DeadCommand) bool { return d.IsOld(threshold) })
}

// GetStats returns totals for the store.
func (s *DeadLetterStore) GetStats(_ context.Context) (model.DeadLetterStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.DeadLetterStats{TotalItems: len(s.items)}
	for _, d := range s.items {
		if d.IsResolved {
			stats.ResolvedItems++
		} else {
			stats.UnresolvedItems++
		}
	}
	return stats, nil
}

// CountUnresolved returns the number of unresolved entries.
func (s *DeadLetterStore) CountUnresolved(ctx context.Context) (int, error) {
	stats, err := s.GetStats(ctx)
	return stats.UnresolvedItems, err
}

func (s *DeadLetterStore) find(limit int, match func(*model.DeadCommand) bool) ([]model.DeadCommand, error) {
	s.mu.Lock()
	var items []model.DeadCommand
	for _, d := range s.items {
		if match(&d) {
			items = append(items, d)
		}
	}
	s.mu.Unlock()

	if len(items) == 0 {
		return nil, hublink.ErrNoData
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].DeadLetteredAt.Equal(items[j].DeadLetteredAt) {
			return items[i].DeadLetteredAt.Before(items[j].DeadLetteredAt)
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// SettingStore implements hublink.SettingRepository in memory.
type SettingStore struct {
	mu       sync.Mutex
	settings map[string]model.Setting
}

// NewSettingStore creates an empty SettingStore.
func NewSettingStore() *SettingStore {
	return &SettingStore{settings: make(map[string]model.Setting)}
}

// Get retrieves the value stored under key.
func (s *SettingStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting, ok := s.settings[key]
	if !ok {
		return "", hublink.ErrNoData
	}
	return setting.Value, nil
}

// Put stores value under key.
func (s *SettingStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = model.NewSetting(key, value)
	return nil
}

// Delete removes key.
func (s *SettingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.settings, key)
	return nil
}

var (
	_ hublink.CommandRepository    = (*CommandStore)(nil)
	_ hublink.DeadLetterRepository = (*DeadLetterStore)(nil)
	_ hublink.SettingRepository    = (*SettingStore)(nil)
)
