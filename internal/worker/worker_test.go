package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/noahxzhu/devoir-reminders/internal/builder"
	"github.com/noahxzhu/devoir-reminders/internal/discord"
	"github.com/noahxzhu/devoir-reminders/internal/guildcfg"
	"github.com/noahxzhu/devoir-reminders/internal/model"
	"github.com/noahxzhu/devoir-reminders/internal/reminders"
	"github.com/noahxzhu/devoir-reminders/internal/storage"
)

type delivery struct {
	target string
	dm     bool
	msg    *discordgo.MessageSend
}

// fakeGateway records deliveries. Targets listed in unresolved or failing
// return the matching error instead.
type fakeGateway struct {
	sent       []delivery
	unresolved map[string]bool
	failing    map[string]bool
}

func newGateway() *fakeGateway {
	return &fakeGateway{unresolved: map[string]bool{}, failing: map[string]bool{}}
}

func (g *fakeGateway) send(target string, dm bool, msg *discordgo.MessageSend) error {
	if g.unresolved[target] {
		return fmt.Errorf("%w: %s", discord.ErrUnresolved, target)
	}
	if g.failing[target] {
		return errors.New("connection reset by peer")
	}
	g.sent = append(g.sent, delivery{target: target, dm: dm, msg: msg})
	return nil
}

func (g *fakeGateway) SendToChannel(_ context.Context, id string, msg *discordgo.MessageSend) error {
	return g.send(id, false, msg)
}

func (g *fakeGateway) SendToUser(_ context.Context, id string, msg *discordgo.MessageSend) error {
	return g.send(id, true, msg)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type env struct {
	clock   *clock
	store   *storage.Store
	guilds  *guildcfg.Store
	gateway *fakeGateway
	service *reminders.Service
	worker  *Worker
}

func newEnv(t *testing.T, start time.Time) *env {
	t.Helper()
	dir := t.TempDir()
	c := &clock{t: start}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewStore(filepath.Join(dir, "reminders.json"), storage.WithClock(c.now))
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	guilds := guildcfg.NewStore(filepath.Join(dir, "guilds.json"))
	gw := newGateway()

	return &env{
		clock:   c,
		store:   store,
		guilds:  guilds,
		gateway: gw,
		service: reminders.NewService(store, guilds, builder.New(time.UTC, builder.WithClock(c.now)), logger),
		worker:  NewWorker(store, gw, guilds, Config{}, logger, WithClock(c.now)),
	}
}

func (e *env) byKind(t *testing.T) map[string]*model.Reminder {
	t.Helper()
	all, err := e.store.List()
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]*model.Reminder{}
	for _, r := range all {
		out[r.SourceEntityID+"/"+r.Kind] = r
	}
	return out
}

var homework = model.SourceEntity{
	ID: "e1", GuildID: "g1", ChannelID: "c1", Deadline: "2025-06-10", Title: "Essay",
}

func TestTickDeliversOnlyDueReminder(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	created, err := e.service.Rebuild(homework)
	if err != nil || len(created) != 2 {
		t.Fatalf("Rebuild() = %d reminders, %v", len(created), err)
	}

	e.clock.t = time.Date(2025, 6, 3, 8, 1, 0, 0, time.UTC)
	sum := e.worker.Tick(context.Background())
	if sum.Due != 1 || sum.Sent != 1 {
		t.Fatalf("Tick() = %+v, want one due and sent", sum)
	}
	if len(e.gateway.sent) != 1 || e.gateway.sent[0].target != "c1" || e.gateway.sent[0].dm {
		t.Fatalf("deliveries = %+v", e.gateway.sent)
	}

	recs := e.byKind(t)
	if r := recs["e1/7d"]; r.Status != model.StatusSent || r.SentAt == nil {
		t.Errorf("7d reminder = %+v, want sent", r)
	}
	if r := recs["e1/1d-morning"]; r.Status != model.StatusPending {
		t.Errorf("1d reminder status = %s, want pending", r.Status)
	}

	// A second tick at the same time finds nothing.
	if sum := e.worker.Tick(context.Background()); sum.Due != 0 || len(e.gateway.sent) != 1 {
		t.Errorf("second Tick() = %+v with %d deliveries", sum, len(e.gateway.sent))
	}
}

func TestTickAfterDeleteSendsNothing(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if _, err := e.service.Rebuild(homework); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.Cancel("e1"); err != nil {
		t.Fatal(err)
	}

	e.clock.t = time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	sum := e.worker.Tick(context.Background())
	if sum.Due != 0 || len(e.gateway.sent) != 0 {
		t.Errorf("Tick() = %+v with %d deliveries, want nothing", sum, len(e.gateway.sent))
	}
}

func TestTickUsesGuildChannelOverride(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if _, err := e.service.Rebuild(homework); err != nil {
		t.Fatal(err)
	}
	if err := e.guilds.SetReminderChannel("g1", "reminders"); err != nil {
		t.Fatal(err)
	}
	if err := e.guilds.SetRole("g1", "r1"); err != nil {
		t.Fatal(err)
	}

	e.clock.t = time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	e.worker.Tick(context.Background())

	if len(e.gateway.sent) != 1 || e.gateway.sent[0].target != "reminders" {
		t.Fatalf("deliveries = %+v, want the override channel", e.gateway.sent)
	}
	if got := e.gateway.sent[0].msg.Content; got != "<@&r1>" {
		t.Errorf("content = %q, want role mention", got)
	}
}

func TestTickFailClosed(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	gone := homework
	gone.ID, gone.ChannelID = "gone", "deleted-channel"
	flaky := homework
	flaky.ID, flaky.ChannelID = "flaky", "flaky-channel"
	ok := homework
	ok.ID = "ok"

	for _, ent := range []model.SourceEntity{gone, flaky, ok} {
		if _, err := e.service.Rebuild(ent); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.service.ScheduleDM(homework, "ghost", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	e.gateway.unresolved["deleted-channel"] = true
	e.gateway.unresolved["ghost"] = true
	e.gateway.failing["flaky-channel"] = true

	e.clock.t = time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	sum := e.worker.Tick(context.Background())
	if sum.Due != 4 || sum.Sent != 1 || sum.Unresolved != 2 || sum.Failed != 1 {
		t.Fatalf("Tick() = %+v", sum)
	}

	recs := e.byKind(t)
	for _, key := range []string{"gone/7d", "flaky/7d", "ok/7d", "e1/dm-custom"} {
		if r := recs[key]; r == nil || r.Status != model.StatusSent {
			t.Errorf("%s = %+v, want sent", key, r)
		}
	}

	if sum := e.worker.Tick(context.Background()); sum.Due != 0 {
		t.Errorf("failed reminders were retried: %+v", sum)
	}
}

func TestTickDM(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if _, err := e.service.ScheduleDM(homework, "u1", time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	e.clock.t = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	e.worker.Tick(context.Background())
	if len(e.gateway.sent) != 1 || !e.gateway.sent[0].dm || e.gateway.sent[0].target != "u1" {
		t.Errorf("deliveries = %+v, want one DM to u1", e.gateway.sent)
	}
}

func TestTickNoChannelAtAll(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	r, err := e.store.AddOne(&model.Reminder{
		Delivery:       model.DeliveryChannel,
		GuildID:        "g1",
		SourceEntityID: "orphan",
		Kind:           model.Kind7Days,
		RemindAt:       e.clock.t.Add(-time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	sum := e.worker.Tick(context.Background())
	if sum.Unresolved != 1 || len(e.gateway.sent) != 0 {
		t.Errorf("Tick() = %+v", sum)
	}
	got, _, _ := e.store.Get(r.ID)
	if got.Status != model.StatusSent {
		t.Errorf("orphan status = %s, want sent", got.Status)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	e := newEnv(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.worker.Start(ctx) }()

	e.worker.Refresh()
	e.worker.Refresh()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
