package entitlements

import (
	"context"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// SweepStore is the persistence the expiry sweep needs.
type SweepStore interface {
	ListActiveTenants(ctx context.Context) ([]models.TenantBot, error)
	TransitionTenant(ctx context.Context, bot *models.TenantBot, fromStatus string) error
}

// Sweeper turns active bots whose entitlement window has lapsed inactive.
type Sweeper struct {
	store SweepStore
	now   func() time.Time
}

func NewSweeper(store SweepStore) *Sweeper {
	return &Sweeper{store: store, now: time.Now}
}

// Sweep runs one pass and returns the ids that were expired. A failure to
// save one tenant does not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) ([]uint, error) {
	bots, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var expired []uint
	for i := range bots {
		bot := &bots[i]
		from := bot.Status
		if !Expire(bot, now) {
			continue
		}
		if err := s.store.TransitionTenant(ctx, bot, from); err != nil {
			log.Errorf("[Entitlements] Failed to expire bot %d (%s): %v", bot.ID, bot.DisplayName(), err)
			continue
		}
		log.Infof("[Entitlements] Bot %d (%s) expired, status set to inactive", bot.ID, bot.DisplayName())
		expired = append(expired, bot.ID)
	}
	return expired, nil
}
