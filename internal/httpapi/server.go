// Package httpapi exposes the authentication service over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/auth"
	"github.com/rvph10/old-saas-sub000/internal/kv"
	"github.com/rvph10/old-saas-sub000/internal/rate"
)

// Header and cookie names of the wire contract.
const (
	HeaderSessionID = "session-id"
	HeaderCsrf      = "x-csrf-token"

	CookieAccess  = "access_token"
	CookieRefresh = "refresh_token"
	CookieCsrf    = "csrf_token"
)

// Config tunes the HTTP surface.
type Config struct {
	CookieDomain string
	CookieSecure bool
	Production   bool
}

// Server carries the handler dependencies.
type Server struct {
	svc     *auth.Service
	store   *kv.Store
	limiter *rate.Limiter
	cfg     Config
	log     *zap.Logger
}

// NewServer creates the HTTP server wrapper.
func NewServer(svc *auth.Service, store *kv.Store, limiter *rate.Limiter, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, store: store, limiter: limiter, cfg: cfg, log: log.Named("http")}
}

// Router builds the gin engine with the fixed middleware pipeline:
// request-log, rate-limit, csrf-check, then session-check on the
// protected group.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLog())
	r.Use(s.rateLimit())
	r.Use(s.csrfCheck())

	r.GET("/health", s.health)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", s.register)
		authGroup.POST("/login", s.login)
		authGroup.POST("/2fa/verify", s.verify2FA)
		authGroup.POST("/refresh", s.refresh)
		authGroup.POST("/verify-email", s.verifyEmail)
		authGroup.POST("/resend-verification", s.resendVerification)
		authGroup.POST("/password-reset/request", s.passwordResetRequest)
		authGroup.POST("/password-reset/reset", s.passwordResetReset)
		authGroup.GET("/csrf-token", s.csrfToken)

		protected := authGroup.Group("")
		protected.Use(s.sessionCheck())
		{
			protected.POST("/logout", s.logout)
			protected.POST("/logout-all", s.logoutAll)
			protected.GET("/sessions", s.sessions)
			protected.DELETE("/sessions/:id", s.revokeSession)
		}
	}

	return r
}

func (s *Server) setAuthCookies(c *gin.Context, result auth.LoginResult) {
	c.SetSameSite(http.SameSiteLaxMode)
	accessMaxAge := int(result.AccessExpiresAt.Unix() - nowUnix())
	refreshMaxAge := int(result.RefreshExpiresAt.Unix() - nowUnix())
	c.SetCookie(CookieAccess, result.AccessToken, accessMaxAge, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, true)
	c.SetCookie(CookieRefresh, result.RefreshToken, refreshMaxAge, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, true)
	if result.CsrfToken != "" {
		// double-submit: the client script must read this cookie
		c.SetCookie(CookieCsrf, result.CsrfToken, accessMaxAge, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, false)
	}
}

func (s *Server) clearAuthCookies(c *gin.Context) {
	c.SetCookie(CookieAccess, "", -1, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, true)
	c.SetCookie(CookieRefresh, "", -1, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, true)
	c.SetCookie(CookieCsrf, "", -1, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, false)
}
