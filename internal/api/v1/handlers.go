package apiv1

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/app/repository"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/botmanager"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/entitlements"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
)

// Runtime is the part of the runtime manager exposed to operators.
type Runtime interface {
	Status(ctx context.Context, id uint) (botmanager.Status, error)
	ListStatuses(ctx context.Context) ([]botmanager.Status, error)
	Start(ctx context.Context, id uint) error
	Stop(id uint) bool
	Restart(ctx context.Context, id uint) error
	Reconcile(ctx context.Context) (botmanager.PassResult, error)
	Retrain(ctx context.Context, id uint) (int, error)
	SendAsOwner(ctx context.Context, id uint, chatID int64, text string) error
}

// TenantStore loads and saves tenant bots for lifecycle actions.
type TenantStore interface {
	LoadTenant(ctx context.Context, id uint) (*models.TenantBot, error)
	TransitionTenant(ctx context.Context, bot *models.TenantBot, fromStatus string) error
}

// APIServer serves the operator runtime API.
type APIServer struct {
	runtime Runtime
	tenants TenantStore
	now     func() time.Time
}

// NewAPIServer creates a new API server instance
func NewAPIServer(runtime Runtime, tenants TenantStore) *APIServer {
	return &APIServer{
		runtime: runtime,
		tenants: tenants,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

type sendRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// RegisterHandlers mounts the runtime routes on router.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/bots", s.ListBots)
	router.Get("/bots/:id", s.GetBot)
	router.Post("/bots/:id/start", s.PostStart)
	router.Post("/bots/:id/stop", s.PostStop)
	router.Post("/bots/:id/restart", s.PostRestart)
	router.Post("/bots/:id/suspend", s.PostSuspend)
	router.Post("/bots/:id/reinstate", s.PostReinstate)
	router.Post("/bots/:id/retrain", s.PostRetrain)
	router.Post("/bots/:id/send", s.PostSend)
	router.Post("/reconcile", s.PostReconcile)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

func (s *APIServer) ListBots(c *fiber.Ctx) error {
	statuses, err := s.runtime.ListStatuses(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"bots": statuses, "count": len(statuses)})
}

func (s *APIServer) GetBot(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	st, err := s.runtime.Status(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if st.State == botmanager.StateNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Bot not found"})
	}
	return c.JSON(st)
}

func (s *APIServer) PostStart(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	if err := s.runtime.Start(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return s.respondStatus(c, id)
}

func (s *APIServer) PostStop(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	stopped := s.runtime.Stop(id)
	st, err := s.runtime.Status(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"stopped": stopped, "status": st})
}

func (s *APIServer) PostRestart(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	if err := s.runtime.Restart(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return s.respondStatus(c, id)
}

// PostSuspend suspends a tenant and stops its worker right away.
func (s *APIServer) PostSuspend(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	var req suspendRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
		}
	}

	ctx := c.UserContext()
	bot, err := s.tenants.LoadTenant(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	from := bot.Status
	if err := entitlements.Suspend(bot, strings.TrimSpace(req.Reason)); err != nil {
		return writeError(c, err)
	}
	if err := s.tenants.TransitionTenant(ctx, bot, from); err != nil {
		return writeError(c, err)
	}
	s.runtime.Stop(id)
	log.Infof("[API] Bot %d suspended", id)
	return s.respondStatus(c, id)
}

// PostReinstate lifts a suspension and starts the worker when the tenant is
// active again.
func (s *APIServer) PostReinstate(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}

	ctx := c.UserContext()
	bot, err := s.tenants.LoadTenant(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	from := bot.Status
	if err := entitlements.Reinstate(bot, s.now()); err != nil {
		return writeError(c, err)
	}
	if err := s.tenants.TransitionTenant(ctx, bot, from); err != nil {
		return writeError(c, err)
	}
	if bot.Status == models.BOT_STATUS_ACTIVE {
		if err := s.runtime.Start(ctx, id); err != nil {
			log.Warnf("[API] Bot %d reinstated but not started: %v", id, err)
		}
	}
	log.Infof("[API] Bot %d reinstated as %s", id, bot.Status)
	return s.respondStatus(c, id)
}

func (s *APIServer) PostRetrain(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	n, err := s.runtime.Retrain(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"tenant_bot_id": id, "conversations": n})
}

// PostSend delivers an operator authored message through a running bot.
func (s *APIServer) PostSend(c *fiber.Ctx) error {
	id, ok := botID(c)
	if !ok {
		return invalidID(c)
	}
	var req sendRequest
	if err := c.BodyParser(&req); err != nil || req.ChatID == 0 || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "chat_id and text are required"})
	}
	if err := s.runtime.SendAsOwner(c.UserContext(), id, req.ChatID, req.Text); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sent": true})
}

func (s *APIServer) PostReconcile(c *fiber.Ctx) error {
	res, err := s.runtime.Reconcile(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (s *APIServer) respondStatus(c *fiber.Ctx, id uint) error {
	st, err := s.runtime.Status(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(st)
}

func botID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func invalidID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid bot id"})
}

// writeError maps runtime errors to operator facing responses. Storage and
// unknown errors never expose details.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case repository.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Bot not found"})
	case errors.Is(err, botmanager.ErrNotActive),
		errors.Is(err, botmanager.ErrNotRunning),
		errors.Is(err, botmanager.ErrDraining),
		errors.Is(err, botmanager.ErrTraining),
		errors.Is(err, entitlements.ErrInvalidTransition),
		errors.Is(err, entitlements.ErrNotEntitled),
		errors.Is(err, repository.ErrStatusChanged):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case telegram.IsAuthError(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "credential_rejected", "message": "Telegram rejected the bot credential"})
	case repository.IsStorageError(err):
		log.Errorf("[API] Storage error: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Storage temporarily unavailable"})
	default:
		log.Errorf("[API] Request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Request failed"})
	}
}
