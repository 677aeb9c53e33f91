package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/autodoc/internal/session"
)

const signInFailedPrefix = "Failed to sign in with Google: "

func (s *Server) dashboard(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	name := sess.DisplayName
	if name == "" {
		name = sess.Email
	}
	c.HTML(http.StatusOK, "dashboard.html", gin.H{"User": name})
}

func (s *Server) loginPage(c *gin.Context) {
	if _, ok := currentSession(c); ok {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "login.html", gin.H{})
}

func (s *Server) beginSignIn(c *gin.Context) {
	authURL, state := s.deps.Gateway.BeginSignIn()
	s.setCookie(c, stateCookie, state, int((10 * time.Minute).Seconds()))
	c.Redirect(http.StatusFound, authURL)
}

func (s *Server) completeSignIn(c *gin.Context) {
	state, _ := c.Cookie(stateCookie)
	s.clearCookie(c, stateCookie)

	cb := session.Callback{
		State: c.Query("state"),
		Code:  c.Query("code"),
		Error: c.Query("error"),
	}
	var (
		sess *session.Session
		err  error
	)
	if state == "" || state != cb.State {
		err = errors.New("sign-in state does not match this browser")
	} else {
		sess, err = s.deps.Gateway.CompleteSignIn(c.Request.Context(), cb)
	}
	if errors.Is(err, session.ErrSignInCancelled) {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	if err != nil {
		slog.Warn("Sign-in failed.", "error", err)
		c.HTML(http.StatusUnauthorized, "login.html", gin.H{"Error": signInFailedPrefix + err.Error()})
		return
	}

	token, err := s.deps.Tokens.Issue(sess)
	if err != nil {
		slog.Error("Failed to issue session token.", "error", err)
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{"Error": signInFailedPrefix + err.Error()})
		return
	}
	s.setCookie(c, sessionCookie, token, int(time.Until(sess.ExpiresAt).Seconds()))
	c.Redirect(http.StatusFound, "/")
}

// signOut always ends the local session, even when the store delete fails.
func (s *Server) signOut(c *gin.Context) {
	if sess, ok := currentSession(c); ok {
		if err := s.deps.Gateway.SignOut(c.Request.Context(), sess.ID); err != nil {
			slog.Error("Sign-out did not complete remotely.", "uid", sess.UID, "error", err)
		}
		s.registry.drop(sess.ID)
	}
	s.clearCookie(c, sessionCookie)
	c.Redirect(http.StatusSeeOther, "/login")
}
