package handlers

import (
	"chatcord-backend/internal/calls"
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/jwt"
	"chatcord-backend/internal/keyValue"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/presence"
	"chatcord-backend/internal/snowflake"
	"chatcord-backend/internal/store"
	"chatcord-backend/internal/validator"
	"chatcord-backend/internal/webhook"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// Deps are the service handles the handlers work with. Calls and Webhooks
// may be nil when calling or user sync isn't configured.
type Deps struct {
	Config   *models.ConfigFile
	Sugar    *zap.SugaredLogger
	Store    *store.Store
	KV       *keyValue.Store
	Hub      *hub.Hub
	Presence *presence.Service
	Auth     *jwt.Verifier
	Webhooks *webhook.Verifier
	Calls    calls.Provider
	IDs      *snowflake.Generator
}

type Handlers struct {
	cfg      *models.ConfigFile
	sugar    *zap.SugaredLogger
	store    *store.Store
	kv       *keyValue.Store
	hub      *hub.Hub
	presence *presence.Service
	auth     *jwt.Verifier
	webhooks *webhook.Verifier
	calls    calls.Provider
	ids      *snowflake.Generator
	validate *validatorv10.Validate

	messageLimiter *stdlib.Middleware
}

func New(d Deps) (*Handlers, error) {
	h := &Handlers{
		cfg:      d.Config,
		sugar:    d.Sugar,
		store:    d.Store,
		kv:       d.KV,
		hub:      d.Hub,
		presence: d.Presence,
		auth:     d.Auth,
		webhooks: d.Webhooks,
		calls:    d.Calls,
		ids:      d.IDs,
		validate: validator.New(),
	}

	limiterMiddleware, err := h.newMessageLimiter()
	if err != nil {
		return nil, err
	}
	h.messageLimiter = limiterMiddleware

	return h, nil
}

// newMessageLimiter counts per client ip and per instance.
func (h *Handlers) newMessageLimiter() (*stdlib.Middleware, error) {
	rate, err := limiter.NewRateFromFormatted(h.cfg.MessageRateLimit)
	if err != nil {
		return nil, err
	}

	instance := limiter.New(memory.NewStore(), rate, limiter.WithTrustForwardHeader(h.cfg.BehindNginx))
	return stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many messages, slow down")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
		}),
	), nil
}

// Router builds the chi router with every route.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	if h.cfg.Cors {
		r.Use(AllowCors)
	}
	if h.cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))

		api.Get("/health", h.Health)

		api.Route("/users/sync", func(r chi.Router) {
			r.Get("/", h.UserSyncReady)
			r.Post("/", h.UserSync)
		})

		api.Group(func(r chi.Router) {
			r.Use(h.UserVerifier)
			r.Use(h.SessionReader)

			r.Post("/auth/session", h.NewSession)
			r.Post("/stream/token", h.StreamToken)

			r.Route("/chat/messages", func(r chi.Router) {
				r.Get("/", h.GetMessageList)
				r.With(h.messageLimiter.Handler).Post("/", h.CreateMessage)
				r.Patch("/{messageId}", h.EditMessage)
				r.Delete("/{messageId}", h.DeleteMessage)
			})

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", h.GetServerList)
				r.Post("/", h.CreateServer)
				r.Route("/{serverId}", func(r chi.Router) {
					r.Get("/", h.GetServer)
					r.Patch("/", h.UpdateServer)
					r.Delete("/", h.DeleteServer)
					r.Post("/join", h.JoinServer)
					r.Post("/leave", h.LeaveServer)
					r.Get("/members", h.GetMemberList)
					r.Get("/channels", h.GetChannelList)
					r.Post("/channels", h.CreateChannel)
				})
			})

			r.Route("/channels/{channelId}", func(r chi.Router) {
				r.Get("/", h.GetChannel)
				r.Patch("/", h.UpdateChannel)
				r.Delete("/", h.DeleteChannel)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", h.GetUserInfo)
				r.Patch("/me", h.UpdateUserInfo)
				r.Get("/{userId}", h.GetUser)
			})

			r.Get("/presence", h.GetPresenceList)
			r.Post("/presence", h.UpdatePresence)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.GetNotificationList)
				r.Post("/read-all", h.MarkAllNotificationsRead)
				r.Post("/{notificationId}/read", h.MarkNotificationRead)
				r.Delete("/{notificationId}", h.DeleteNotification)
			})

			r.Route("/voice", func(r chi.Router) {
				r.Use(h.requireCalls)
				r.Post("/{channelId}/connect", h.VoiceConnect)
				r.Post("/sessions/{sessionId}/disconnect", h.VoiceDisconnect)
			})

			r.Route("/video", func(r chi.Router) {
				r.Use(h.requireCalls)
				r.Post("/{channelId}/start", h.VideoStart)
				r.Get("/sessions/{sessionId}", h.GetVideoSession)
				r.Post("/sessions/{sessionId}/join", h.VideoJoin)
				r.Post("/sessions/{sessionId}/leave", h.VideoLeave)
				r.Post("/sessions/{sessionId}/end", h.VideoEnd)
			})
		})
	})

	// the websocket outlives the request timeout
	websocketPath := "/ws"
	if h.cfg.BehindNginx {
		websocketPath = "/ws/"
	}
	r.With(h.StreamTokenVerifier).Get(websocketPath, h.HandleWebSocket)

	return r
}
