// Package ghosttest provides an in-memory runtime store for tests.
package ghosttest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/app/repository"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/patterns"
	"gorm.io/gorm"
)

var ErrInjected = errors.New("injected storage failure")

// Store implements the persistence of the bot runtime in memory.
type Store struct {
	mu            sync.Mutex
	tenants       map[uint]models.TenantBot
	conversations []models.Conversation
	patterns      map[uint]*models.PatternRecord
	activity      map[uint]int64
	lastActive    map[uint]time.Time
	patternSaves  int

	// FailPatternSaves makes the next n SavePatternStore calls fail.
	FailPatternSaves int
	// FailLists makes the list calls fail.
	FailLists bool
}

func NewStore() *Store {
	return &Store{
		tenants:    map[uint]models.TenantBot{},
		patterns:   map[uint]*models.PatternRecord{},
		activity:   map[uint]int64{},
		lastActive: map[uint]time.Time{},
	}
}

// Put inserts or replaces a tenant.
func (s *Store) Put(bot models.TenantBot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[bot.ID] = bot
}

// SetStatus changes the lifecycle status of a tenant.
func (s *Store) SetStatus(id uint, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot := s.tenants[id]
	bot.Status = status
	s.tenants[id] = bot
}

// Tenant returns a copy of the stored tenant.
func (s *Store) Tenant(id uint) models.TenantBot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenants[id]
}

func (s *Store) Conversations(tenantBotID uint) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.TenantBotID == tenantBotID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) PatternRecord(tenantBotID uint) *models.PatternRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patterns[tenantBotID]
}

func (s *Store) PatternSaves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patternSaves
}

func (s *Store) Activity(tenantBotID uint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity[tenantBotID]
}

func (s *Store) LoadTenant(ctx context.Context, id uint) (*models.TenantBot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.tenants[id]
	if !ok {
		return nil, &repository.StorageError{Op: "load_tenant", Err: gorm.ErrRecordNotFound}
	}
	return &bot, nil
}

func (s *Store) SaveProfile(ctx context.Context, bot *models.TenantBot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tenants[bot.ID]
	if !ok {
		return &repository.StorageError{Op: "save_profile", Err: gorm.ErrRecordNotFound}
	}
	cur.BotUsername = bot.BotUsername
	cur.BotName = bot.BotName
	cur.CloneProfile = bot.CloneProfile
	s.tenants[bot.ID] = cur
	return nil
}

func (s *Store) TransitionTenant(ctx context.Context, bot *models.TenantBot, fromStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tenants[bot.ID]
	if !ok {
		return &repository.StorageError{Op: "transition_tenant", Err: gorm.ErrRecordNotFound}
	}
	if cur.Status != fromStatus {
		return repository.ErrStatusChanged
	}
	cur.Status = bot.Status
	cur.Plan = bot.Plan
	cur.TrialExpiresAt = bot.TrialExpiresAt
	cur.PlanExpiresAt = bot.PlanExpiresAt
	cur.ApprovedAt = bot.ApprovedAt
	cur.ApprovedBy = bot.ApprovedBy
	cur.SuspendReason = bot.SuspendReason
	s.tenants[bot.ID] = cur
	return nil
}

func (s *Store) ListActiveTenants(ctx context.Context) ([]models.TenantBot, error) {
	return s.list(models.BOT_STATUS_ACTIVE)
}

func (s *Store) ListTenants(ctx context.Context) ([]models.TenantBot, error) {
	return s.list("")
}

func (s *Store) list(status string) ([]models.TenantBot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLists {
		return nil, &repository.StorageError{Op: "list", Err: ErrInjected}
	}
	var out []models.TenantBot
	for _, b := range s.tenants {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.ID = uint(len(s.conversations) + 1)
	s.conversations = append(s.conversations, *conv)
	return nil
}

func (s *Store) ListConversations(ctx context.Context, tenantBotID uint, limit int) ([]models.Conversation, error) {
	out := s.Conversations(tenantBotID)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) LoadPatternStore(ctx context.Context, tenantBotID uint) (*patterns.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.patterns[tenantBotID]
	if !ok {
		return patterns.New(tenantBotID), nil
	}
	return patterns.FromRecord(rec), nil
}

func (s *Store) SavePatternStore(ctx context.Context, store *patterns.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPatternSaves > 0 {
		s.FailPatternSaves--
		return &repository.StorageError{Op: "save_pattern_store", Err: ErrInjected}
	}
	s.patternSaves++
	s.patterns[store.TenantBotID] = store.ToRecord()
	return nil
}

func (s *Store) UpdateTenantActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[tenantBotID] += count
	if ts.After(s.lastActive[tenantBotID]) {
		s.lastActive[tenantBotID] = ts
	}
	return nil
}

func (s *Store) RecordActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error {
	return s.UpdateTenantActivity(ctx, tenantBotID, ts, count)
}

// PlainDecryptor returns stored credentials unchanged.
type PlainDecryptor struct{}

func (PlainDecryptor) DecryptCredential(stored string) (string, error) {
	return stored, nil
}

// ActiveBot builds an approved active tenant with an open trial.
func ActiveBot(id uint, credential string, adminChatID int64) models.TenantBot {
	now := time.Now().UTC()
	trialEnd := now.Add(72 * time.Hour)
	approved := now.Add(-time.Hour)
	bot := models.TenantBot{
		ID:             id,
		OwnerID:        1,
		CredentialEnc:  credential,
		AdminChatID:    adminChatID,
		Status:         models.BOT_STATUS_ACTIVE,
		Plan:           models.PLAN_TRIAL,
		TrialExpiresAt: &trialEnd,
		ApprovedAt:     &approved,
		CreatedAt:      now.Add(-time.Hour),
	}
	bot.SetBotSettings(models.DefaultBotSettings())
	return bot
}
