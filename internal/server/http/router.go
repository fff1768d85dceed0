package http

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mira/internal/logging"
)

// RouterConfig holds the transport-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	StaticDir      string
	Debug          bool
}

// NewRouter builds the gin engine: the chat endpoint, health and metrics,
// CORS, and optional static frontend serving.
func NewRouter(handler *ChatHandler, cfg RouterConfig, logger logging.Logger) *gin.Engine {
	logger = logging.OrNop(logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || contains(cfg.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	engine.Use(cors.New(corsConfig))

	engine.POST("/api/chat", handler.HandleChat)
	engine.GET("/healthz", handler.HandleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err != nil {
			logger.Warn("static dir %s not found, frontend serving disabled", cfg.StaticDir)
		} else {
			logger.Info("serving frontend from %s", cfg.StaticDir)
			engine.NoRoute(staticHandler(cfg.StaticDir))
		}
	}

	return engine
}

// staticHandler serves files from dir, falling back to index.html so
// client-side routes resolve.
func staticHandler(dir string) gin.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		path := filepath.Join(dir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.File(filepath.Join(dir, "index.html"))
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
