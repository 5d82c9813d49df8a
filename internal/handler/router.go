package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/eray/backend/internal/config"
	"github.com/zhouzirui/eray/backend/internal/handler/assist"
	"github.com/zhouzirui/eray/backend/internal/handler/catalog"
	"github.com/zhouzirui/eray/backend/internal/handler/chat"
	"github.com/zhouzirui/eray/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	chatService "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

// Deps 汇总路由需要的服务。Engines 为空时聊天接口返回 503。
type Deps struct {
	Access       config.AccessConfig
	Store        chatService.Store
	Articles     chatService.ArticleStore
	Registry     *llm.Registry
	Availability catalog.Availability
	Engines      *conversation.Factory
	Writer       assist.Writer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.Access.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Access.AllowedOrigins()))
	r.Use(middlewarePkg.Scope(deps.Access.AdminToken))

	limiter := middlewarePkg.NewRateLimiter(deps.Access.PublicRatePerMin, deps.Access.PublicBurst)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		chat.New(deps.Store).RegisterRoutes(api)
		catalog.New(deps.Registry, deps.Availability, deps.Articles).RegisterRoutes(api)

		if deps.Engines != nil {
			stream.New(deps.Engines).RegisterRoutes(api, limiter.Middleware)
			stream.NewWebSocketHandler(deps.Engines, limiter, middlewarePkg.OriginChecker(deps.Access.AllowedOrigins())).RegisterRoutes(api)
		} else {
			unavailable := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
			}
			api.Post("/chat/stream", unavailable)
			api.Get("/chat/ws", unavailable)
		}

		if deps.Writer != nil {
			assist.New(deps.Writer, deps.Registry).RegisterRoutes(api)
		}
	})

	return r
}
