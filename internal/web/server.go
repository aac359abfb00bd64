package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/noahxzhu/devoir-reminders/internal/builder"
	"github.com/noahxzhu/devoir-reminders/internal/homework"
	"github.com/noahxzhu/devoir-reminders/internal/model"
	"github.com/noahxzhu/devoir-reminders/internal/offset"
)

type Entities interface {
	Get(id string) (model.SourceEntity, error)
	Put(e model.SourceEntity) error
	Delete(id string) error
}

type Guilds interface {
	Guild(guildID string) (model.GuildSettings, error)
	SetReminderChannel(guildID, channelID string) error
	SetRole(guildID, roleID string) error
	AddTiming(guildID string, rule model.OffsetRule) error
	RemoveTiming(guildID string, index int) (model.OffsetRule, error)
}

type Reminders interface {
	List() ([]*model.Reminder, error)
}

type Scheduler interface {
	ParseDeadline(v string) (time.Time, error)
	Rebuild(e model.SourceEntity) ([]*model.Reminder, error)
	Cancel(entityID string) (int, error)
	ScheduleDM(e model.SourceEntity, userID string, at time.Time) (*model.Reminder, error)
}

// Server is the admin API. It stands in for the chat commands that create,
// edit and delete homework, and for the guild configuration commands.
type Server struct {
	entities  Entities
	guilds    Guilds
	reminders Reminders
	scheduler Scheduler
	token     string
	logger    *slog.Logger
	router    *mux.Router
}

func NewServer(entities Entities, guilds Guilds, reminders Reminders, scheduler Scheduler, token string, logger *slog.Logger) *Server {
	s := &Server{
		entities:  entities,
		guilds:    guilds,
		reminders: reminders,
		scheduler: scheduler,
		token:     token,
		logger:    logger,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/reminders", s.handleListReminders).Methods(http.MethodGet)
	api.HandleFunc("/entities/{id}", s.handlePutEntity).Methods(http.MethodPut)
	api.HandleFunc("/entities/{id}", s.handleDeleteEntity).Methods(http.MethodDelete)
	api.HandleFunc("/entities/{id}/dm", s.handleScheduleDM).Methods(http.MethodPost)
	api.HandleFunc("/guilds/{guild}/timings", s.handleListTimings).Methods(http.MethodGet)
	api.HandleFunc("/guilds/{guild}/timings", s.handleAddTiming).Methods(http.MethodPost)
	api.HandleFunc("/guilds/{guild}/timings/{index}", s.handleRemoveTiming).Methods(http.MethodDelete)
	api.HandleFunc("/guilds/{guild}/channel", s.handleSetChannel).Methods(http.MethodPut)
	api.HandleFunc("/guilds/{guild}/role", s.handleSetRole).Methods(http.MethodPut)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) internal(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	all, err := s.reminders.List()
	if err != nil {
		s.internal(w, "failed to list reminders", err)
		return
	}

	status := model.Status(r.URL.Query().Get("status"))
	entity := r.URL.Query().Get("entity")
	out := make([]*model.Reminder, 0, len(all))
	for _, rem := range all {
		if status != "" && rem.Status != status {
			continue
		}
		if entity != "" && rem.SourceEntityID != entity {
			continue
		}
		out = append(out, rem)
	}
	writeJSON(w, http.StatusOK, out)
}

type entityRequest struct {
	GuildID     string `json:"guildId"`
	ChannelID   string `json:"channelId"`
	UserID      string `json:"userId"`
	Date        string `json:"date"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Importance  string `json:"importance"`
	Category    string `json:"category"`
	// Timings is a comma separated list such as "3j,12h,45m".
	Timings string `json:"timings"`
}

func (s *Server) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req entityRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := s.scheduler.ParseDeadline(req.Date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	timings, err := offset.ParseList(req.Timings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e := model.SourceEntity{
		ID:            id,
		GuildID:       req.GuildID,
		ChannelID:     req.ChannelID,
		UserID:        req.UserID,
		Deadline:      req.Date,
		Title:         req.Title,
		Description:   req.Description,
		Importance:    req.Importance,
		Category:      req.Category,
		CustomTimings: timings,
	}
	e.Normalize()

	if err := s.entities.Put(e); err != nil {
		s.internal(w, "failed to save entity", err)
		return
	}
	created, err := s.scheduler.Rebuild(e)
	if err != nil {
		s.internal(w, "failed to rebuild reminders", err)
		return
	}
	if created == nil {
		created = []*model.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": e, "reminders": created})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.entities.Delete(id); err != nil && !errors.Is(err, homework.ErrNotFound) {
		s.internal(w, "failed to delete entity", err)
		return
	}
	n, err := s.scheduler.Cancel(id)
	if err != nil {
		s.internal(w, "failed to cancel reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

type dmRequest struct {
	UserID string `json:"userId"`
	// At is a local date and time ("2025-06-05T18:30") or RFC 3339.
	At string `json:"at"`
}

func (s *Server) handleScheduleDM(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req dmRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.entities.Get(id)
	if errors.Is(err, homework.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		s.internal(w, "failed to load entity", err)
		return
	}
	at, err := s.scheduler.ParseDeadline(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rem, err := s.scheduler.ScheduleDM(e, req.UserID, at)
	switch {
	case errors.Is(err, builder.ErrInPast), errors.Is(err, builder.ErrNoRecipient):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internal(w, "failed to schedule reminder", err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

type timingView struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	OffsetMs int64  `json:"offsetMs"`
	Delay    string `json:"delay"`
}

func (s *Server) handleListTimings(w http.ResponseWriter, r *http.Request) {
	g, err := s.guilds.Guild(mux.Vars(r)["guild"])
	if err != nil {
		s.internal(w, "failed to read guild settings", err)
		return
	}
	out := make([]timingView, 0, len(g.CustomTimings))
	for i, t := range g.CustomTimings {
		out = append(out, timingView{Index: i, Label: t.Label, OffsetMs: t.OffsetMs, Delay: offset.Format(t.Duration())})
	}
	writeJSON(w, http.StatusOK, out)
}

type timingRequest struct {
	Label string `json:"label"`
	Delay string `json:"delay"`
}

func (s *Server) handleAddTiming(w http.ResponseWriter, r *http.Request) {
	guild := mux.Vars(r)["guild"]

	var req timingRequest
	if !decode(w, r, &req) {
		return
	}
	d, ok := offset.Parse(req.Delay)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid delay "+strconv.Quote(req.Delay)+" (expected forms like 3j, 12h, 45m)")
		return
	}
	label := req.Label
	if label == "" {
		label = req.Delay
	}
	rule := model.RuleFor(label, d)
	if err := s.guilds.AddTiming(guild, rule); err != nil {
		s.internal(w, "failed to save timing", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveTiming(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be a number")
		return
	}
	g, err := s.guilds.Guild(vars["guild"])
	if err != nil {
		s.internal(w, "failed to read guild settings", err)
		return
	}
	if index < 0 || index >= len(g.CustomTimings) {
		writeError(w, http.StatusNotFound, "no timing at index "+vars["index"])
		return
	}
	removed, err := s.guilds.RemoveTiming(vars["guild"], index)
	if err != nil {
		s.internal(w, "failed to remove timing", err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.guilds.SetReminderChannel(mux.Vars(r)["guild"], req.ID); err != nil {
		s.internal(w, "failed to save channel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.guilds.SetRole(mux.Vars(r)["guild"], req.ID); err != nil {
		s.internal(w, "failed to save role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
