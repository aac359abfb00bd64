package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/noahxzhu/devoir-reminders/internal/discord"
	"github.com/noahxzhu/devoir-reminders/internal/model"
	"github.com/noahxzhu/devoir-reminders/internal/render"
	"github.com/robfig/cron"
)

// Store is the subset of the reminder store the worker needs.
type Store interface {
	DuePending(now time.Time) ([]*model.Reminder, error)
	Get(id string) (*model.Reminder, bool, error)
	MarkSent(id string) (bool, error)
	CleanupOld(retention time.Duration) (int, error)
}

// Gateway delivers rendered messages.
type Gateway interface {
	SendToChannel(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
	SendToUser(ctx context.Context, userID string, msg *discordgo.MessageSend) error
}

// Guilds returns per-guild settings.
type Guilds interface {
	Guild(guildID string) (model.GuildSettings, error)
}

type Config struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
}

// Summary counts what happened to the due reminders of one tick.
type Summary struct {
	Due        int
	Sent       int
	Unresolved int
	Failed     int
	Skipped    int
}

type Worker struct {
	store      Store
	gateway    Gateway
	guilds     Guilds
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	updateChan chan struct{}
}

type Option func(*Worker)

// WithClock overrides the time source used to find due reminders.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store Store, gateway Gateway, guilds Guilds, cfg Config, logger *slog.Logger, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 6 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	w := &Worker{
		store:      store,
		gateway:    gateway,
		guilds:     guilds,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		updateChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Refresh signals the worker to scan for due reminders immediately.
func (w *Worker) Refresh() {
	select {
	case w.updateChan <- struct{}{}:
	default:
		// A scan is already queued.
	}
}

// Start runs the polling loop until ctx is cancelled. Cleanup of old
// records runs on its own cron schedule.
func (w *Worker) Start(ctx context.Context) error {
	c := cron.New()
	spec := "@every " + w.cfg.CleanupInterval.String()
	if err := c.AddFunc(spec, w.cleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", spec, err)
	}
	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("Worker started", "poll_interval", w.cfg.PollInterval, "cleanup_interval", w.cfg.CleanupInterval)
	w.cleanup()

	for {
		w.Tick(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return nil
		case <-w.updateChan:
			w.logger.Debug("Worker received update signal")
		case <-ticker.C:
		}
	}
}

func (w *Worker) cleanup() {
	n, err := w.store.CleanupOld(w.cfg.Retention)
	if err != nil {
		w.logger.Error("Failed to clean up old reminders", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("Old reminders removed", "count", n, "retention", w.cfg.Retention)
	}
}

// Tick delivers every reminder due now. Each due record gets at most one
// delivery attempt and is marked sent whatever the outcome, so a failure
// is logged and never retried. One record's failure does not stop the rest.
func (w *Worker) Tick(ctx context.Context) Summary {
	var sum Summary
	now := w.now()

	due, err := w.store.DuePending(now)
	if err != nil {
		w.logger.Error("Failed to list due reminders", "error", err)
		return sum
	}
	sum.Due = len(due)
	if len(due) == 0 {
		return sum
	}
	w.logger.Info("Due reminders found", "count", len(due))

	for _, r := range due {
		if ctx.Err() != nil {
			w.logger.Info("Context cancelled, stopping tick", "error", ctx.Err())
			return sum
		}

		// The record may have been cancelled or sent since the scan.
		current, ok, err := w.store.Get(r.ID)
		if err != nil {
			w.logger.Error("Failed to re-read reminder", "id", r.ID, "error", err)
			sum.Skipped++
			continue
		}
		if !ok || current.Status != model.StatusPending {
			w.logger.Info("Reminder no longer pending, skipping", "id", r.ID)
			sum.Skipped++
			continue
		}

		err = w.deliver(ctx, current, now)
		switch {
		case err == nil:
			sum.Sent++
			w.logger.Info("Reminder sent", "id", current.ID, "kind", current.Kind, "title", current.Title, "delivery", current.Delivery)
		case errors.Is(err, discord.ErrUnresolved):
			sum.Unresolved++
			w.logger.Warn("Reminder destination not found, dropping", "id", current.ID, "kind", current.Kind, "error", err)
		default:
			sum.Failed++
			w.logger.Error("Failed to send reminder, not retrying", "id", current.ID, "kind", current.Kind, "error", err)
		}

		if _, err := w.store.MarkSent(current.ID); err != nil {
			w.logger.Error("Failed to mark reminder sent", "id", current.ID, "error", err)
		}
	}

	w.logger.Info("Tick completed", "due", sum.Due, "sent", sum.Sent, "unresolved", sum.Unresolved, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum
}

func (w *Worker) deliver(ctx context.Context, r *model.Reminder, now time.Time) error {
	if r.Delivery == model.DeliveryDM {
		if r.UserID == "" {
			return fmt.Errorf("%w: dm reminder without user", discord.ErrUnresolved)
		}
		return w.gateway.SendToUser(ctx, r.UserID, render.DM(r, now))
	}

	guild := model.GuildSettings{}
	if r.GuildID != "" {
		g, err := w.guilds.Guild(r.GuildID)
		if err != nil {
			// Fall back to the source channel without a role mention.
			w.logger.Warn("Failed to read guild settings", "guild_id", r.GuildID, "error", err)
		} else {
			guild = g
		}
	}

	target := guild.ReminderChannelID
	if target == "" {
		target = r.SourceChannelID
	}
	if target == "" {
		return fmt.Errorf("%w: no channel for guild %s", discord.ErrUnresolved, r.GuildID)
	}
	return w.gateway.SendToChannel(ctx, target, render.Channel(r, guild, now))
}
