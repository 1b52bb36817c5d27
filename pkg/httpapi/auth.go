package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/session"
)

const (
	sessionCookie = "session"
	sessionHeader = "X-Session-Token"
	adminHeader   = "X-Admin-Token"
)

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func sessionToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(sessionHeader)); token != "" {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(sessionHeader, sess.Token)
}

// withSession loads the caller's session. With create set, a missing session
// is replaced by a fresh anonymous one; otherwise an empty session is used.
func (s *Server) withSession(create bool, next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(sessionToken(r))
		switch {
		case err == nil:
		case errors.Is(err, session.ErrNotFound) && create:
			if sess, err = s.sessions.Create("", 0, ""); err != nil {
				s.respondError(w, "session", err)
				return
			}
			s.setSessionCookie(w, sess)
		case errors.Is(err, session.ErrNotFound):
			sess = session.Session{Cart: map[string]int{}}
		default:
			s.respondError(w, "session", err)
			return
		}
		next(w, r, &sess)
	}
}

// requireRole rejects callers whose session does not carry role.
func (s *Server) requireRole(role ledger.Role, next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(sessionToken(r))
		if err != nil {
			s.respondError(w, "authorize", err)
			return
		}
		if sess.Role != role {
			s.respondError(w, "authorize", ledger.Errorf(ledger.KindUnauthorized, "authorize", "%s login required", role))
			return
		}
		next(w, r, &sess)
	}
}

// requireAdmin guards the administrative API with a shared token. The API is
// closed when no token is configured.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get(adminHeader)
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(given), []byte(s.adminToken)) != 1 {
			s.respondError(w, "authorize", ledger.Errorf(ledger.KindUnauthorized, "authorize", "admin token required"))
			return
		}
		next(w, r)
	}
}

// login authenticates a client or manager and starts a new session. An
// anonymous cart collected before login is carried over.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := decode(w, r, "login", &payload); err != nil {
		s.respondError(w, "login", err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()

	role := ledger.Role(r.PathValue("role"))
	principal, err := s.ledger.Authenticate(ctx, role, payload.Login, payload.Password)
	if err != nil {
		s.respondError(w, "login", err)
		return
	}

	previous, prevErr := s.sessions.Get(sessionToken(r))
	sess, err := s.sessions.Create(principal.Role, principal.ID, principal.Name)
	if err != nil {
		s.respondError(w, "login", err)
		return
	}
	if prevErr == nil {
		if len(previous.Cart) > 0 {
			sess.Cart = previous.Cart
			if err := s.sessions.Save(&sess); err != nil {
				s.respondError(w, "login", err)
				return
			}
		}
		if err := s.sessions.Delete(previous.Token); err != nil {
			s.logger.Warn().Err(err).Msg("unable to drop previous session")
		}
	}

	s.setSessionCookie(w, sess)
	s.logger.Info().Str("role", string(principal.Role)).Int64("id", principal.ID).Msg("signed in")
	s.respond(w, http.StatusOK, map[string]any{
		"token": sess.Token,
		"role":  principal.Role,
		"id":    principal.ID,
		"name":  principal.Name,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.sessions.Delete(token); err != nil {
			s.respondError(w, "logout", err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	s.respond(w, http.StatusOK, nil)
}
