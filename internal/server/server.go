package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/changefeed"
	"github.com/dukerupert/homequest/internal/config"
	"github.com/dukerupert/homequest/internal/economy"
	"github.com/dukerupert/homequest/internal/handler"
	"github.com/dukerupert/homequest/internal/household"
	"github.com/dukerupert/homequest/internal/media"
	"github.com/dukerupert/homequest/internal/metrics"
	"github.com/dukerupert/homequest/internal/middleware"
	"github.com/dukerupert/homequest/internal/push"
	"github.com/dukerupert/homequest/internal/quest"
	"github.com/dukerupert/homequest/internal/retention"
	"github.com/dukerupert/homequest/internal/reward"
	"github.com/dukerupert/homequest/internal/store"
	ws "github.com/dukerupert/homequest/internal/websocket"
)

const limiterSweepTick = 5 * time.Minute

var writePolicy = middleware.Policy{Limit: 60, Window: time.Minute}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	metrics     *metrics.Metrics
	changes     *changefeed.Dispatcher
	engine      *economy.Engine
	pruner      *retention.Pruner
	verifier    *auth.Verifier
	rateLimiter *middleware.RateLimiter
	userStore   *store.UserStore
	householdH  *handler.HouseholdHandler
	questH      *handler.QuestHandler
	rewardH     *handler.RewardHandler
	feedH       *handler.FeedHandler
	pushH       *handler.PushHandler
	stopSweep   context.CancelFunc
	logger      *slog.Logger
}

func New(db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	m := metrics.New()
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	pushStore := store.NewPushStore(db)

	// Push notification service
	var pushSender push.Sender
	var pushH *handler.PushHandler
	if cfg.PushEnabled() {
		pushSvc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
		pushSender = pushSvc
		pushH = handler.NewPushHandler(pushStore, userStore, pushSvc, logger.With("component", "push_handler"))
	}
	pushDispatcher := push.NewDispatcher(pushSender, db, m, logger.With("component", "push"))

	// Change stream: awards first, then client notices
	changes := changefeed.New(db, cfg.ChangePollInterval, m, logger.With("component", "changefeed"))
	engine := economy.NewEngine(db, pushDispatcher, hub, m, logger.With("component", "economy"))
	changes.Subscribe(engine)
	changes.Subscribe(changefeed.Broadcast(hub))

	opts := quest.Options{InstantComplete: cfg.InstantComplete}
	if proofs := media.New(cfg.Media); proofs != nil {
		opts.Proofs = proofs
	}

	householdSvc := household.NewService(db, hub, logger.With("component", "household"))
	questSvc := quest.NewService(db, changes, hub, opts, logger.With("component", "quest"))
	rewardSvc := reward.NewService(db, hub, logger.With("component", "reward"))
	purchaser := economy.NewPurchaser(db, hub, m, logger.With("component", "purchase"))

	return &Server{
		db:          db,
		hub:         hub,
		metrics:     m,
		changes:     changes,
		engine:      engine,
		pruner:      retention.New(db, cfg.Retention, m, logger.With("component", "retention")),
		verifier:    auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		rateLimiter: middleware.NewRateLimiter(),
		userStore:   userStore,
		householdH:  handler.NewHouseholdHandler(householdSvc, logger.With("component", "household_handler")),
		questH:      handler.NewQuestHandler(questSvc, logger.With("component", "quest_handler")),
		rewardH:     handler.NewRewardHandler(rewardSvc, purchaser, logger.With("component", "reward_handler")),
		feedH:       handler.NewFeedHandler(userStore, store.NewFeedStore(db), logger.With("component", "feed_handler")),
		pushH:       pushH,
		logger:      logger,
	}
}

// Start launches the change dispatcher, the feed pruner and the rate
// limiter sweep. They run until Stop or until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.changes.Start(ctx)
	if err := s.pruner.Start(ctx); err != nil {
		s.changes.Stop()
		return err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.stopSweep = cancel
	go func() {
		ticker := time.NewTicker(limiterSweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := s.rateLimiter.Cleanup(); n > 0 {
					s.logger.Debug("rate limiter sweep", "removed", n)
				}
			}
		}
	}()
	return nil
}

// Stop waits for in-flight background work to finish.
func (s *Server) Stop() {
	if s.stopSweep != nil {
		s.stopSweep()
	}
	s.pruner.Stop()
	s.changes.Stop()
	s.engine.Wait()
}

// Changes returns the change dispatcher.
func (s *Server) Changes() *changefeed.Dispatcher {
	return s.changes
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.verifier)
	outerMux.Handle("/", authMiddleware(protectedMux))

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
	return s.metrics.Instrument(logged)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.UserOrIP, writePolicy)
	limited := rl(h)
	return limited.ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Household routes
	mux.HandleFunc("POST /api/households", s.rateLimitedHandler(s.householdH.Create))
	mux.HandleFunc("POST /api/households/join", s.rateLimitedHandler(s.householdH.Join))
	mux.HandleFunc("GET /api/households/{hid}", s.householdH.Get)
	mux.HandleFunc("GET /api/households/{hid}/leaderboard", s.householdH.Leaderboard)
	mux.HandleFunc("GET /api/me", s.householdH.Me)
	mux.HandleFunc("PUT /api/me/avatar", s.rateLimitedHandler(s.householdH.SetAvatar))

	// Quest routes
	mux.HandleFunc("POST /api/households/{hid}/tasks", s.rateLimitedHandler(s.questH.Create))
	mux.HandleFunc("GET /api/households/{hid}/tasks", s.questH.List)
	mux.HandleFunc("GET /api/households/{hid}/tasks/{tid}", s.questH.Get)
	mux.HandleFunc("POST /api/households/{hid}/tasks/{tid}/claim", s.rateLimitedHandler(s.questH.Claim))
	mux.HandleFunc("POST /api/households/{hid}/tasks/{tid}/proof", s.rateLimitedHandler(s.questH.SubmitProof))
	mux.HandleFunc("POST /api/households/{hid}/tasks/{tid}/approve", s.rateLimitedHandler(s.questH.Approve))

	// Coupon routes
	mux.HandleFunc("POST /api/households/{hid}/coupons", s.rateLimitedHandler(s.rewardH.Create))
	mux.HandleFunc("GET /api/households/{hid}/coupons", s.rewardH.List)
	mux.HandleFunc("POST /api/households/{hid}/coupons/{cid}/purchase", s.rateLimitedHandler(s.rewardH.Purchase))
	mux.HandleFunc("POST /api/households/{hid}/coupons/{cid}/redeem", s.rateLimitedHandler(s.rewardH.Redeem))

	// Activity feed
	mux.HandleFunc("GET /api/households/{hid}/feed", s.feedH.List)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.rateLimitedHandler(s.pushH.Subscribe))
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, handler.CallerHousehold(s.userStore), s.logger.With("component", "websocket")))
}
