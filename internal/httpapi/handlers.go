package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rvph10/old-saas-sub000/internal/auth"
	"github.com/rvph10/old-saas-sub000/internal/session"
)

func requestMeta(c *gin.Context, force bool) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress:         c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		ForceLogoutOthers: force,
	}
}

func currentSession(c *gin.Context) session.Session {
	v, _ := c.Get(ctxSessionKey)
	sess, _ := v.(session.Session)
	return sess
}

func (s *Server) health(c *gin.Context) {
	latency, err := s.store.Ping(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store_latency_ms": latency.Milliseconds()})
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username, email, and password are required")
		return
	}
	res, err := s.svc.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user_id":  res.UserID,
		"username": res.Username,
		"email":    res.Email,
	})
}

type loginRequest struct {
	Identifier        string `json:"identifier" binding:"required"`
	Password          string `json:"password" binding:"required"`
	ForceLogoutOthers bool   `json:"force_logout_others"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "identifier and password are required")
		return
	}
	result, err := s.svc.Login(c.Request.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		Meta:       requestMeta(c, req.ForceLogoutOthers),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	if result.Requires2FA {
		c.JSON(http.StatusOK, gin.H{
			"requires_2fa":  true,
			"pending_token": result.PendingToken,
		})
		return
	}

	s.setAuthCookies(c, result)
	c.JSON(http.StatusOK, gin.H{
		"session_id": result.SessionID,
		"user_id":    result.UserID,
		"expires_at": result.AccessExpiresAt,
	})
}

type verify2FARequest struct {
	PendingToken string `json:"pending_token" binding:"required"`
	Code         string `json:"code" binding:"required"`
}

func (s *Server) verify2FA(c *gin.Context) {
	var req verify2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pending_token and code are required")
		return
	}
	result, err := s.svc.Verify2FA(c.Request.Context(), req.PendingToken, req.Code, requestMeta(c, false))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.setAuthCookies(c, result)
	c.JSON(http.StatusOK, gin.H{
		"session_id": result.SessionID,
		"user_id":    result.UserID,
		"expires_at": result.AccessExpiresAt,
	})
}

func (s *Server) refresh(c *gin.Context) {
	refreshToken, err := c.Cookie(CookieRefresh)
	if err != nil || refreshToken == "" {
		s.fail(c, auth.E(auth.CodeInvalidRefreshToken, "Invalid refresh token"))
		return
	}
	result, err := s.svc.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		s.clearAuthCookies(c)
		s.fail(c, err)
		return
	}
	s.setAuthCookies(c, auth.LoginResult{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshExpiresAt: result.RefreshExpiresAt,
	})
	c.JSON(http.StatusOK, gin.H{"expires_at": result.AccessExpiresAt})
}

func (s *Server) logout(c *gin.Context) {
	sess := currentSession(c)
	refreshToken, _ := c.Cookie(CookieRefresh)
	if err := s.svc.Logout(c.Request.Context(), sess.ID, refreshToken); err != nil {
		s.fail(c, err)
		return
	}
	s.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (s *Server) logoutAll(c *gin.Context) {
	sess := currentSession(c)
	count, err := s.svc.LogoutAll(c.Request.Context(), sess.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out", "sessions_destroyed": count})
}

func (s *Server) sessions(c *gin.Context) {
	sess := currentSession(c)
	infos, err := s.svc.Sessions(c.Request.Context(), sess.UserID, sess.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

func (s *Server) revokeSession(c *gin.Context) {
	sess := currentSession(c)
	if err := s.svc.RevokeSession(c.Request.Context(), sess.UserID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

func (s *Server) passwordResetRequest(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}
	if err := s.svc.RequestPasswordReset(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		s.fail(c, err)
		return
	}
	// identical response whether or not the email exists
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type resetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) passwordResetReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token and password are required")
		return
	}
	if err := s.svc.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) verifyEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token is required")
		return
	}
	if err := s.svc.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

func (s *Server) resendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}
	if err := s.svc.ResendVerification(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		s.fail(c, err)
		return
	}
	// identical response whether or not the email exists
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) csrfToken(c *gin.Context) {
	sessionID := c.GetHeader(HeaderSessionID)
	if sessionID == "" {
		s.fail(c, auth.E(auth.CodeSessionExpired, "Session expired or not found"))
		return
	}
	token, err := s.svc.IssueCsrfToken(c.Request.Context(), sessionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.SetCookie(CookieCsrf, token, 24*60*60, "/", s.cfg.CookieDomain, s.cfg.CookieSecure, false)
	c.JSON(http.StatusOK, gin.H{"csrf_token": token})
}
