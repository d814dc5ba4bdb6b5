package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"nse-trading-bot/config"
	"nse-trading-bot/internal/circuit"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/confirm"
	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/dedup"
	"nse-trading-bot/internal/engine"
	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/logging"
	"nse-trading-bot/internal/margin"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/schedule"
	"nse-trading-bot/internal/signals"
)

// Server is the HTTP surface: the signal webhook, read-only status
// endpoints and the confirmation reply endpoint.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	log    *logging.Logger

	cfg           config.ServerConfig
	webhookSecret string

	intake   *engine.Intake
	state    *portfolio.State
	detector *dedup.Detector
	breaker  *circuit.Breaker
	monitor  *margin.Monitor
	sched    *schedule.Schedule
	repo     *database.Repository
	confirms *confirm.Bus
	hub      *Hub
	clk      clock.Clock

	startedAt time.Time
}

// Deps bundles everything the server reads from. monitor, sched and repo
// may be nil (backtest mode runs without them).
type Deps struct {
	Intake   *engine.Intake
	State    *portfolio.State
	Detector *dedup.Detector
	Breaker  *circuit.Breaker
	Monitor  *margin.Monitor
	Schedule *schedule.Schedule
	Repo     *database.Repository
	Confirms *confirm.Bus
	Bus      *events.Bus
	Clock    clock.Clock
	Log      *logging.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(cfg config.ServerConfig, webhookSecret string, d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Webhook-Secret"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:        router,
		log:           d.Log.WithComponent("api"),
		cfg:           cfg,
		webhookSecret: webhookSecret,
		intake:        d.Intake,
		state:         d.State,
		detector:      d.Detector,
		breaker:       d.Breaker,
		monitor:       d.Monitor,
		sched:         d.Schedule,
		repo:          d.Repo,
		confirms:      d.Confirms,
		hub:           NewHub(d.Bus, d.Log),
		clk:           d.Clock,
		startedAt:     time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/webhook/signal", s.handleWebhook)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/portfolio", s.handlePortfolio)
		api.GET("/margin", s.handleMargin)
		api.GET("/hedges", s.handleHedges)
		api.GET("/audit", s.handleAudit)
		api.GET("/audit/:id/orders", s.handleAuditOrders)
		api.GET("/schedule", s.handleSchedule)
		api.GET("/confirmations", s.handleConfirmations)
		api.POST("/confirmations/:id/reply", s.handleConfirmReply)
	}

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.Handle(c.Writer, c.Request)
	})
}

// Start runs the HTTP server until it fails or Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}
	s.log.Info("starting HTTP server", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_secs": int(time.Since(s.startedAt).Seconds())})
}

// handleWebhook receives a chart signal, enqueues it and waits for the
// terminal outcome so the sender gets the real disposition back.
func (s *Server) handleWebhook(c *gin.Context) {
	if s.webhookSecret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if got == "" {
			got = c.Query("secret")
		}
		if got != s.webhookSecret {
			c.JSON(http.StatusUnauthorized, gin.H{"accepted": false, "reason": "invalid webhook secret"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "unreadable body"})
		return
	}

	sig, err := signals.ParseWebhook(body, s.clk.Now())
	if err != nil {
		var pe *signals.ParseError
		if errors.As(err, &pe) {
			c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": pe.Error(), "fields": pe.Fields})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": err.Error()})
		return
	}

	reply, err := s.intake.Submit(sig)
	if err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"accepted": false, "reason": "signal queue full, retry shortly"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"accepted": false, "reason": err.Error()})
		return
	}

	select {
	case res := <-reply:
		c.JSON(http.StatusOK, gin.H{
			"accepted": true,
			"outcome":  res.Outcome,
			"reason":   res.Reason,
			"audit_id": res.AuditID,
		})
	case <-c.Request.Context().Done():
		// Sender gave up; the signal still processes to completion
		c.Status(http.StatusRequestTimeout)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	breakerState, breakerReason := s.breaker.State()
	answered, timedOut, dropped := s.confirms.Stats()

	status := gin.H{
		"uptime_secs":   int(time.Since(s.startedAt).Seconds()),
		"queue_depth":   s.intake.Depth(),
		"pipeline":      s.intake.Stats(),
		"dedup":         s.detector.Stats(),
		"breaker_state": breakerState,
		"ws_clients":    s.hub.Clients(),
		"confirmations": gin.H{
			"answered":  answered,
			"timed_out": timedOut,
			"dropped":   dropped,
		},
	}
	if breakerReason != "" {
		status["breaker_reason"] = breakerReason
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.CurrentState())
}

func (s *Server) handleMargin(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "margin monitor not running"})
		return
	}
	reading := s.monitor.Latest()
	if reading == nil {
		c.JSON(http.StatusOK, gin.H{"reading": nil, "total_budget": s.monitor.TotalBudget()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reading": reading, "total_budget": s.monitor.TotalBudget()})
}

func (s *Server) handleHedges(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "database not configured"})
		return
	}
	sessionDate := s.clk.Now().In(clock.IST).Format("2006-01-02")
	hedges, err := s.repo.ActiveHedges(c.Request.Context(), sessionDate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	spend, err := s.repo.DailyHedgeSpend(c.Request.Context(), sessionDate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_date": sessionDate, "active": hedges, "spend_today": spend})
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "database not configured"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	rows, err := s.repo.RecentAuditRecords(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sessionDate := s.clk.Now().In(clock.IST).Format("2006-01-02")
	counts, err := s.repo.CountOutcomes(c.Request.Context(), sessionDate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows, "today_outcomes": counts})
}

// handleAuditOrders lists the broker order legs recorded for one audit id
func (s *Server) handleAuditOrders(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "database not configured"})
		return
	}
	orders, err := s.repo.OrdersForAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_id": c.Param("id"), "orders": orders})
}

func (s *Server) handleSchedule(c *gin.Context) {
	if s.sched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not configured"})
		return
	}
	resp := gin.H{
		"hold_hedges":    s.sched.ShouldHoldHedges(),
		"entry_imminent": s.sched.IsEntryImminent(),
	}
	if entry, until, ok := s.sched.NextEntry(); ok {
		resp["next_entry"] = entry
		resp["next_entry_in_secs"] = int(until.Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConfirmations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.confirms.Pending()})
}

func (s *Server) handleConfirmReply(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}
	if !s.confirms.Reply(id, body.Action) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending request with that id, or invalid action"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
