package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/taleweaver/internal/campaign"
	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/config"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/logging"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/observability"
	"github.com/ent0n29/taleweaver/internal/recall"
	"github.com/ent0n29/taleweaver/internal/roleplay"
	"github.com/ent0n29/taleweaver/internal/session"
	"github.com/ent0n29/taleweaver/internal/turn"
)

// ActorHeader carries the caller identity. Authentication happens upstream;
// the value is passed explicitly to every directory and memory call.
const ActorHeader = "X-Actor-ID"

const anonymousActor = "anonymous"

// Roleplayer answers one message as one character.
type Roleplayer interface {
	Respond(ctx context.Context, req roleplay.Request) (roleplay.Response, error)
}

// TurnPlayer runs a campaign turn.
type TurnPlayer interface {
	Play(ctx context.Context, t turn.Turn) (turn.Result, error)
}

type Deps struct {
	Config    config.Config
	Sessions  *session.Manager
	Directory entity.Directory
	Store     memory.Store
	Retriever *recall.Retriever
	Roleplay  Roleplayer
	Turns     TurnPlayer
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// Backends lists completion backend names for /readyz.
	Backends []string
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	directory entity.Directory
	store     memory.Store
	retriever *recall.Retriever
	roleplay  Roleplayer
	turns     TurnPlayer
	metrics   *observability.Metrics
	logger    *slog.Logger
	backends  []string
	clock     *conversation.Clock
	upgrader  websocket.Upgrader
}

func New(d Deps) *Server {
	cfg := d.Config
	retriever := d.Retriever
	if retriever == nil && d.Store != nil {
		retriever = campaign.NewRetriever(d.Store)
	}
	return &Server{
		cfg:       cfg,
		sessions:  d.Sessions,
		directory: d.Directory,
		store:     d.Store,
		retriever: retriever,
		roleplay:  d.Roleplay,
		turns:     d.Turns,
		metrics:   d.Metrics,
		logger:    logging.OrDiscard(d.Logger),
		backends:  d.Backends,
		clock:     conversation.NewClock(nil),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(actorMiddleware)

		r.Post("/characters/{id}/respond", s.handleRespond)
		r.Get("/characters/{id}/memories", s.handleListMemories)
		r.Post("/characters/{id}/memories", s.handleAddMemory)
		r.Delete("/characters/{id}/memories", s.handleDeleteAllMemories)
		r.Get("/characters/{id}/memories/search", s.handleSearchMemories)
		r.Delete("/characters/{id}/memories/{memoryID}", s.handleDeleteMemory)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/messages", s.handleSessionMessage)
		r.Post("/sessions/{id}/end", s.handleEndSession)
		r.Get("/sessions/{id}/ws", s.handleSessionWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	if len(s.backends) == 0 || s.store == nil {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":              status,
		"completion_backends": s.backends,
		"memory_store_driver": s.cfg.MemoryStoreDriver,
		"active_sessions":     s.sessions.ActiveCount(),
	})
}

type actorKey struct{}

func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ActorHeader))
		if id == "" {
			id = anonymousActor
		}
		ctx := context.WithValue(r.Context(), actorKey{}, entity.Actor{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorOf is read once per handler; everything below receives the actor as
// an argument.
func actorOf(r *http.Request) entity.Actor {
	if a, ok := r.Context().Value(actorKey{}).(entity.Actor); ok {
		return a
	}
	return entity.Actor{ID: anonymousActor}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps core errors onto HTTP statuses. Directory errors
// pass through verbatim; dispatch failures carry the user-facing message.
func respondDomainError(w http.ResponseWriter, err error) {
	var (
		dispatchErr *completion.DispatchError
		turnErr     *turn.Error
	)
	switch {
	case errors.Is(err, entity.ErrUnauthorized), errors.Is(err, session.ErrForbidden):
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, turn.ErrCharacterNotFound):
		respondError(w, http.StatusNotFound, "character_not_found", "Character not found.")
	case errors.Is(err, entity.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded), errors.Is(err, session.ErrTurnInProgress):
		respondError(w, http.StatusConflict, "session_busy", err.Error())
	case errors.As(err, &turnErr):
		respondError(w, http.StatusBadGateway, "turn_failed", turnErr.UserMessage())
	case errors.As(err, &dispatchErr):
		respondError(w, http.StatusBadGateway, "completion_unavailable", dispatchErr.UserMessage())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
