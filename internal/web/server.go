// Package web serves the AutoDoc shell: the sign-in screen, the dashboard
// and the JSON API behind it.
package web

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/autodoc/internal/objectstore"
	"github.com/Lllllllleong/autodoc/internal/services"
	"github.com/Lllllllleong/autodoc/internal/session"
	"github.com/Lllllllleong/autodoc/internal/thumbnail"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	sessionCookie = "autodoc_session"
	stateCookie   = "autodoc_state"

	ctxSessionKey = "session"
)

// Deps are the process-wide services the shell is built on.
type Deps struct {
	Gateway *session.Gateway
	Tokens  *session.Tokens
	Store   objectstore.Store
	Fetcher thumbnail.Fetcher

	ThumbnailScale float64
	GalleryFanout  int
	MaxUploadBytes int64
	UploadTimeout  time.Duration
	SecureCookies  bool
}

type Server struct {
	deps     Deps
	registry *registry
	engine   *gin.Engine
}

func NewServer(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = thumbnail.DefaultMaxBytes
	}
	if deps.UploadTimeout <= 0 {
		deps.UploadTimeout = 5 * time.Minute
	}

	s := &Server{deps: deps}
	renderer := thumbnail.NewRenderer(deps.Fetcher, deps.ThumbnailScale)
	s.registry = newRegistry(func(sessionID string) *userGallery {
		return &userGallery{
			controller: services.NewGalleryController(deps.Gateway.Bind(sessionID), deps.Store, services.GalleryConfig{Fanout: deps.GalleryFanout}),
			thumbnails: thumbnail.NewGallery(renderer),
		}
	}, func(sessionID string) bool {
		_, ok := deps.Gateway.CurrentUser(sessionID)
		return ok
	})

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))
	s.engine = engine
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	pages := r.Group("/", s.loadSession())
	{
		pages.GET("/", s.dashboard)
		pages.GET("/login", s.loginPage)
		pages.POST("/login", s.beginSignIn)
		pages.GET("/auth/callback", s.completeSignIn)
		pages.POST("/signout", s.signOut)
	}

	api := r.Group("/api", s.loadSession(), requireSession())
	{
		api.GET("/gallery", s.gallery)
		api.POST("/selection", s.selectFile)
		api.POST("/upload", s.upload)
		api.GET("/upload/events", s.uploadEvents)
		api.GET("/thumbnails/*path", s.thumbnailPNG)
	}
}

// loadSession resolves the session cookie, if any, into the request context.
// A stale or forged cookie is cleared, and the state kept for an expired
// session is dropped.
func (s *Server) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(sessionCookie)
		if err != nil || raw == "" {
			c.Next()
			return
		}
		sessionID, _, err := s.deps.Tokens.Parse(raw)
		if err == nil {
			var sess *session.Session
			sess, err = s.deps.Gateway.Resolve(c.Request.Context(), sessionID)
			if err == nil {
				c.Set(ctxSessionKey, sess)
				c.Next()
				return
			}
		}
		slog.Info("Ignoring invalid session cookie.", "error", err)
		s.clearCookie(c, sessionCookie)
		s.registry.sweep()
		c.Next()
	}
}

func requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := currentSession(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": services.MsgNotAuthenticated})
			return
		}
		c.Next()
	}
}

func currentSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(ctxSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled.",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", s.deps.SecureCookies, true)
}

func (s *Server) clearCookie(c *gin.Context, name string) {
	s.setCookie(c, name, "", -1)
}
