package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/patterns"
)

// RuntimeStore adapts the repositories to the persistence calls of the bot
// runtime. Every failure is returned as *StorageError.
type RuntimeStore struct {
	repos *Repositories
}

func NewRuntimeStore(repos *Repositories) *RuntimeStore {
	return &RuntimeStore{repos: repos}
}

func (s *RuntimeStore) LoadTenant(ctx context.Context, id uint) (*models.TenantBot, error) {
	bot, err := s.repos.TenantBot.GetByID(ctx, id)
	return bot, wrap("load_tenant", err)
}

func (s *RuntimeStore) ListActiveTenants(ctx context.Context) ([]models.TenantBot, error) {
	bots, err := s.repos.TenantBot.ListByStatus(ctx, models.BOT_STATUS_ACTIVE)
	return bots, wrap("list_active_tenants", err)
}

func (s *RuntimeStore) ListTenants(ctx context.Context) ([]models.TenantBot, error) {
	bots, err := s.repos.TenantBot.List(ctx, 0, 0)
	return bots, wrap("list_tenants", err)
}

func (s *RuntimeStore) SaveProfile(ctx context.Context, bot *models.TenantBot) error {
	return wrap("save_profile", s.repos.TenantBot.UpdateProfile(ctx, bot))
}

// TransitionTenant persists a lifecycle change of bot made from fromStatus.
// A concurrent status change is reported as ErrStatusChanged, unwrapped.
func (s *RuntimeStore) TransitionTenant(ctx context.Context, bot *models.TenantBot, fromStatus string) error {
	err := s.repos.TenantBot.UpdateLifecycle(ctx, bot, fromStatus)
	if errors.Is(err, ErrStatusChanged) {
		return err
	}
	return wrap("transition_tenant", err)
}

func (s *RuntimeStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	return wrap("save_conversation", s.repos.Conversation.Create(ctx, conv))
}

func (s *RuntimeStore) ListConversations(ctx context.Context, tenantBotID uint, limit int) ([]models.Conversation, error) {
	convs, err := s.repos.Conversation.ListByTenant(ctx, tenantBotID, limit)
	return convs, wrap("list_conversations", err)
}

// LoadPatternStore returns the stored patterns or a fresh store when the bot
// has none yet.
func (s *RuntimeStore) LoadPatternStore(ctx context.Context, tenantBotID uint) (*patterns.Store, error) {
	rec, err := s.repos.Pattern.GetByTenant(ctx, tenantBotID)
	if IsNotFound(err) {
		return patterns.New(tenantBotID), nil
	}
	if err != nil {
		return nil, wrap("load_pattern_store", err)
	}
	return patterns.FromRecord(rec), nil
}

func (s *RuntimeStore) SavePatternStore(ctx context.Context, store *patterns.Store) error {
	rec := store.ToRecord()
	if err := s.repos.Pattern.Upsert(ctx, rec); err != nil {
		return wrap("save_pattern_store", err)
	}
	store.SetRecordID(rec.ID)
	return nil
}

func (s *RuntimeStore) UpdateTenantActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error {
	return wrap("update_tenant_activity", s.repos.TenantBot.ApplyActivity(ctx, tenantBotID, ts, count))
}

// RecordActivity writes activity straight to the database. It is the
// recorder used when no cache is configured.
func (s *RuntimeStore) RecordActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error {
	return s.UpdateTenantActivity(ctx, tenantBotID, ts, count)
}
