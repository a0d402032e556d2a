package wizard

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/solacelabs/tandem/internal/generation"
	"github.com/solacelabs/tandem/internal/types"
)

// Manager lazily creates and hands out one session per couple member.
type Manager struct {
	cfg    Config
	couple types.Couple
	gen    generation.Generator
	needs  Creator
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[types.Member]*Session
}

// NewManager creates a session manager for the couple.
func NewManager(couple types.Couple, cfg Config, gen generation.Generator, needs Creator, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		couple:   couple,
		gen:      gen,
		needs:    needs,
		logger:   logger,
		sessions: make(map[types.Member]*Session),
	}
}

// Session returns the wizard session for author, creating it on first
// use. Authors outside the couple are rejected.
func (m *Manager) Session(author types.Member) (*Session, error) {
	if !m.couple.Contains(author) {
		return nil, fmt.Errorf("unknown member %q", author)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[author]; ok {
		return s, nil
	}
	s := NewSession(author, m.couple.PartnerOf(author), m.cfg, m.gen, m.needs, m.logger)
	m.sessions[author] = s
	return s, nil
}
