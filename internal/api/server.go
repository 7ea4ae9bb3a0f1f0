package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/PurgingPanda/vinted-koopjes/internal/api/middleware"
	"github.com/PurgingPanda/vinted-koopjes/internal/config"
	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/monitor"
	"github.com/PurgingPanda/vinted-koopjes/internal/vinted"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Server 管理 API：监控的增删查、手动触发、封锁状态与活动日志。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	monitor  *monitor.Monitor
	tracker  *monitor.BlockingTracker
	activity *monitor.ActivityRecorder
	tokens   *vinted.RedisTokenSource
	router   *gin.Engine
}

// NewServer 组装管理 API。tokens 可为 nil（禁用令牌接口）。
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	db *gorm.DB,
	mon *monitor.Monitor,
	tracker *monitor.BlockingTracker,
	activity *monitor.ActivityRecorder,
	tokens *vinted.RedisTokenSource,
) *Server {
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		monitor:  mon,
		tracker:  tracker,
		activity: activity,
		tokens:   tokens,
		router:   r,
	}
	s.setupRoutes()
	return s
}

// Router 返回底层路由，测试与 http.Server 挂载用。
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	{
		api.GET("/watches", s.handleListWatches)
		api.POST("/watches", s.handleCreateWatch)
		api.POST("/watches/:id/check", s.handleTriggerCheck)
		api.GET("/watches/:id/alerts", s.handleWatchAlerts)

		api.GET("/blocking", s.handleBlockingState)
		api.GET("/activity", s.handleActivity)
		api.POST("/alerts/:id/hide", s.handleHideAlert)
		api.POST("/token", s.handleSetToken)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListWatches(c *gin.Context) {
	var watches []model.Watch
	if err := s.db.WithContext(c.Request.Context()).Order("id").Find(&watches).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load watches failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watches": watches})
}

type createWatchRequest struct {
	UserID                 uint                 `json:"user_id" binding:"required"`
	Name                   string               `json:"name" binding:"required"`
	CatalogURL             string               `json:"catalog_url"`
	SearchParams           *vinted.SearchParams `json:"search_params"`
	StdDevThreshold        *float64             `json:"std_dev_threshold"`
	AbsolutePriceThreshold *float64             `json:"absolute_price_threshold"`
	BlacklistWords         string               `json:"blacklist_words"`
	HighlightWords         string               `json:"highlight_words"`
}

// handleCreateWatch 创建监控。搜索条件来自目录链接或显式参数，二选一。
func (s *Server) handleCreateWatch(c *gin.Context) {
	var req createWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := req.SearchParams
	if req.CatalogURL != "" {
		parsed, err := vinted.ParseCatalogURL(req.CatalogURL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params = parsed
	}
	if params == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "catalog_url or search_params required"})
		return
	}

	encoded, err := params.Encode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	watch := model.Watch{
		UserID:                 req.UserID,
		Name:                   req.Name,
		SearchParams:           encoded,
		StdDevThreshold:        1.5,
		AbsolutePriceThreshold: req.AbsolutePriceThreshold,
		BlacklistWords:         req.BlacklistWords,
		HighlightWords:         req.HighlightWords,
		IsActive:               true,
	}
	if req.StdDevThreshold != nil {
		watch.StdDevThreshold = *req.StdDevThreshold
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&watch).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create watch failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"watch":   watch,
		"preview": params.Preview(),
	})
}

// handleTriggerCheck 手动触发一次监控检查，同步等待结果。
func (s *Server) handleTriggerCheck(c *gin.Context) {
	watchID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid watch id"})
		return
	}

	pages := 0
	if raw := c.Query("pages"); raw != "" {
		if pages, err = strconv.Atoi(raw); err != nil || pages < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pages"})
			return
		}
	}

	rec, err := s.monitor.TriggerCheck(c.Request.Context(), uint(watchID), pages)
	switch {
	case errors.Is(err, monitor.ErrCheckInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "check already in flight"})
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "watch not found"})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    err.Error(),
			"activity": rec,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"activity": rec})
}

func (s *Server) handleWatchAlerts(c *gin.Context) {
	watchID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid watch id"})
		return
	}

	var alerts []model.UnderpriceAlert
	q := s.db.WithContext(c.Request.Context()).
		Preload("Item").
		Where("watch_id = ?", uint(watchID)).
		Order("detected_at DESC")
	if c.Query("include_hidden") != "true" {
		q = q.Where("hidden = ?", false)
	}
	if err := q.Find(&alerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load alerts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleBlockingState(c *gin.Context) {
	state := s.tracker.State()
	c.JSON(http.StatusOK, gin.H{
		"is_blocked":           state.IsBlocked,
		"blocked_since":        state.BlockedSince,
		"consecutive_failures": state.ConsecutiveFailures,
		"last_checked_at":      state.LastCheckedAt,
		"last_success_at":      state.LastSuccessAt,
		"canary_watch_id":      state.CanaryWatchID,
		"check_interval":       s.tracker.CheckInterval().String(),
	})
}

func (s *Server) handleActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := s.activity.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load activity failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": records})
}

func (s *Server) handleHideAlert(c *gin.Context) {
	alertID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	res := s.db.WithContext(c.Request.Context()).
		Model(&model.UnderpriceAlert{}).
		Where("id = ?", uint(alertID)).
		Update("hidden", true)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hide alert failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hidden": true})
}

type setTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// handleSetToken 注入新的会话令牌（浏览器里复制出来的 access_token_web）。
func (s *Server) handleSetToken(c *gin.Context) {
	if s.tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token store not configured"})
		return
	}

	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tokens.Set(c.Request.Context(), req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": true})
}
