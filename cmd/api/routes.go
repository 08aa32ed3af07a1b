package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/planograma/internal/auth"
	"github.com/yourusername/planograma/internal/config"
	"github.com/yourusername/planograma/internal/logging"
	"github.com/yourusername/planograma/internal/metrics"
	"github.com/yourusername/planograma/internal/session"
	"github.com/yourusername/planograma/internal/web"
)

// newRouter は gin ルーターを組み立てます。
func newRouter(cfg *config.Config, logger *logrus.Logger, loader auth.AccessLoader, rdb *redis.Client) *gin.Engine {
	router := gin.New()
	// 試行制限はクライアントIP単位なので、信頼するプロキシ以外の X-Forwarded-For は使わない
	if err := router.SetTrustedProxies(cfg.TrustedProxies()); err != nil {
		logger.WithError(err).Warn("invalid trusted proxies; using remote address only")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), logging.Middleware(logger), metrics.Middleware())

	// Cookie にはセッショントークンだけを入れ、署名して改ざんを防ぐ
	cookieOpts := auth.CookieOptions(cfg.SessionTTL(), cfg.GinMode == gin.ReleaseMode)
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(cookieOpts)
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", logging.RequestIDHeader}
		corsConfig.ExposeHeaders = []string{logging.RequestIDHeader}
		router.Use(cors.New(corsConfig))
	}

	router.SetHTMLTemplate(web.Templates())
	router.StaticFS("/static", web.Static())

	service := auth.NewService(loader, session.NewStore(rdb, cfg.SessionTTL()), logger)
	throttle := auth.NewThrottle(rdb, auth.ThrottleConfig{
		MaxAttempts:  cfg.LoginMaxAttempts,
		Window:       time.Duration(cfg.LoginWindowMinutes) * time.Minute,
		LockDuration: time.Duration(cfg.LoginLockMinutes) * time.Minute,
	})
	authManager := auth.NewManager(service, throttle, cookieOpts, logger)

	setupRoutes(router, authManager)
	return router
}

// setupRoutes はページと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, authManager *auth.Manager) {
	// 誰でも叩けるエンドポイント
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/login", authManager.LoginPage)
	router.POST("/login", authManager.Login)
	router.GET("/logout", authManager.Logout)
	router.POST("/logout", authManager.Logout)

	protected := router.Group("")
	protected.Use(authManager.RequireLogin())
	{
		protected.GET("/", handleHome)
		protected.POST("/trocar-loja", authManager.SwitchStore)
	}

	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "404")
	})
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "planograma-v2",
		"version": "0.1.0",
	})
}

// handleHome はホーム画面です。今はログイン中のユーザーと店舗だけを表示します。
func handleHome(c *gin.Context) {
	record, ok := auth.CurrentSession(c)
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	csrf, err := auth.CSRFToken(c)
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "500")
		return
	}

	data := gin.H{"user": record, "csrf": csrf}
	if store, ok := record.ActiveStore(); ok {
		data["activeStore"] = store
	}
	c.HTML(http.StatusOK, "index.html", data)
}
