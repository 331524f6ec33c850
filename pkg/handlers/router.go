package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sba-cms/pkg/config"
	"sba-cms/pkg/logging"
)

// NewRouter builds the HTTP handler: the action API, the contact form,
// health and metrics endpoints and the media directory, behind CORS.
func NewRouter(cfg *config.Config, s *Server) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	})(newEngine(cfg, s))
}

func newEngine(cfg *config.Config, s *Server) *gin.Engine {
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = cfg.MaxUploadBytes
	}
	if s.LoginLimit == nil {
		s.LoginLimit = RateLimit(cfg.Auth.LoginRateLimit, time.Minute)
	}
	if s.ContactLimit == nil {
		s.ContactLimit = RateLimit(cfg.Contact.RateLimit, time.Minute)
	}
	s.table()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(logging.GinLogger())
	r.Use(gin.CustomRecovery(recoverJSON))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
	})

	for _, p := range []string{"/api", "/admin/api.php"} {
		r.GET(p, s.Dispatch)
		r.POST(p, s.Dispatch)
	}

	for _, p := range []string{"/forms/contact", "/forms/contact.php"} {
		r.POST(p, s.ContactLimit, s.SubmitContact)
	}

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static(cfg.MediaURLPrefix(), cfg.MediaDir)
	return r
}

// recoverJSON logs a handler panic and answers with a generic 500 that does
// not echo the panic value.
func recoverJSON(c *gin.Context, recovered any) {
	logging.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panicked")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
}

// Health reports liveness and whether the database tier answers.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": s.DB.Available(c.Request.Context()),
	})
}

// RateLimit adapts an httprate per-IP limiter to gin. A non-positive limit
// disables it.
func RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	if requests <= 0 {
		return func(*gin.Context) {}
	}

	limiter := httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too many requests"}`))
		}),
	)

	return func(c *gin.Context) {
		passed := false
		limiter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			passed = true
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}
