package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"convertly/web/internal/auth"
	"convertly/web/internal/config"
	"convertly/web/internal/convert"
)

type AuthService interface {
	Signup(username, password string) (auth.User, error)
	Login(username, password string) (auth.Session, error)
	ValidateToken(token string) (auth.Session, error)
	Logout(token string) error
}

type ConversionService interface {
	Convert(ctx context.Context, filename string, src io.Reader, tokens []string) (*convert.Result, error)
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Deps struct {
	Auth           AuthService
	Convert        ConversionService
	Audit          AuditLogger
	Logger         *slog.Logger
	StaticDir      string
	CookieSecure   bool
	MaxUploadBytes int64
	// LoginRatePerMin <= 0 disables login throttling.
	LoginRatePerMin int
	LoginBurst      int
	// TrustedProxies holds addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(deps.Logger, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

type handler struct {
	deps    Deps
	log     *slog.Logger
	pages   *pageRenderer
	limiter *loginLimiter
	proxies []netip.Prefix
}

func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handler{
		deps:    deps,
		log:     deps.Logger,
		pages:   newPageRenderer(),
		proxies: parsePrefixes(deps.TrustedProxies),
	}
	if deps.LoginRatePerMin > 0 {
		h.limiter = newLoginLimiter(deps.LoginRatePerMin, deps.LoginBurst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h.registerPageHandlers(mux)
	h.registerAuthHandlers(mux)
	h.registerConvertHandlers(mux)
	registerStaticHandlers(mux, deps.StaticDir)

	return mux
}

func (h *handler) registerPageHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.render(w, r, http.StatusOK, pageIndex, "PDF Converter")
	})

	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if _, ok := h.requireSession(w, r); !ok {
			return
		}
		h.render(w, r, http.StatusOK, pageTools, "Tools")
	})

	stubs := []struct{ path, name string }{
		{"/tools/audio", "Audio"},
		{"/tools/video", "Video"},
		{"/tools/font", "Font"},
		{"/tools/archive", "Archive"},
		{"/tools/ebook", "Ebook"},
	}
	for _, s := range stubs {
		notice := flash{Category: "info", Message: s.name + " Converter is under development!"}
		mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			if _, ok := h.requireSession(w, r); !ok {
				return
			}
			h.render(w, r, http.StatusOK, pageTools, "Tools", notice)
		})
	}
}

func (h *handler) registerAuthHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		if _, ok := h.currentSession(r); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.render(w, r, http.StatusOK, pageSignup, "Sign Up")
		case http.MethodPost:
			username := strings.TrimSpace(r.PostFormValue("username"))
			password := r.PostFormValue("password")

			u, err := h.deps.Auth.Signup(username, password)
			if err != nil {
				var msg string
				switch {
				case errors.Is(err, auth.ErrPasswordTooLong):
					msg = "Password is too long."
				case errors.Is(err, auth.ErrValidation):
					msg = "Username and password are required."
				case errors.Is(err, auth.ErrUserExists):
					msg = "Username already exists. Please choose a different one."
				default:
					h.log.Error("signup failed", "username", username, "err", err)
					msg = "Signup failed. Please try again."
				}
				auditReq(h.deps.Audit, r, username, "auth.signup", "", "failed", "", err.Error())
				h.redirectWithFlash(w, r, "/signup", flash{Category: "danger", Message: msg})
				return
			}
			auditReq(h.deps.Audit, r, u.Username, "auth.signup", fmt.Sprint(u.ID), "success", "", "")
			h.redirectWithFlash(w, r, "/login", flash{Category: "success", Message: "Signup successful! Please log in."})
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		if _, ok := h.currentSession(r); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.render(w, r, http.StatusOK, pageLogin, "Log In")
		case http.MethodPost:
			if h.limiter != nil && !h.limiter.Allow(h.throttleKey(r)) {
				auditReq(h.deps.Audit, r, "", "auth.login", "", "throttled", "", "")
				h.render(w, r, http.StatusTooManyRequests, pageLogin, "Log In",
					flash{Category: "danger", Message: "Too many login attempts. Please try again later."})
				return
			}

			username := strings.TrimSpace(r.PostFormValue("username"))
			session, err := h.deps.Auth.Login(username, r.PostFormValue("password"))
			if err != nil {
				msg := "Invalid username or password."
				if !errors.Is(err, auth.ErrInvalidCredentials) {
					h.log.Error("login failed", "username", username, "err", err)
					msg = "Login failed. Please try again."
				}
				auditReq(h.deps.Audit, r, username, "auth.login", "", "failed", "", err.Error())
				h.redirectWithFlash(w, r, r.URL.RequestURI(), flash{Category: "danger", Message: msg})
				return
			}
			auditReq(h.deps.Audit, r, session.Username, "auth.login", "", "success", session.ID, "")

			h.setSessionCookie(w, session)
			h.redirectWithFlash(w, r, safeNext(r.URL.Query().Get("next")), flash{Category: "success", Message: "Logged in successfully!"})
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})

	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		session, ok := h.requireSession(w, r)
		if !ok {
			return
		}
		if err := h.deps.Auth.Logout(session.Token); err != nil {
			auditReq(h.deps.Audit, r, session.Username, "auth.logout", "", "failed", session.ID, err.Error())
		} else {
			auditReq(h.deps.Audit, r, session.Username, "auth.logout", "", "success", session.ID, "")
		}
		h.clearSessionCookie(w)
		h.redirectWithFlash(w, r, "/", flash{Category: "info", Message: "You have been logged out."})
	})
}

func registerStaticHandlers(mux *http.ServeMux, dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
}

const sessionCookieName = "session_token"

func (h *handler) setSessionCookie(w http.ResponseWriter, s auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   h.deps.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.deps.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handler) currentSession(r *http.Request) (auth.Session, bool) {
	if h.deps.Auth == nil {
		return auth.Session{}, false
	}
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return auth.Session{}, false
	}
	session, err := h.deps.Auth.ValidateToken(c.Value)
	if err != nil {
		return auth.Session{}, false
	}
	return session, true
}

// requireSession redirects anonymous visitors to the login page, carrying
// the requested URI in "next".
func (h *handler) requireSession(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	if h.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return auth.Session{}, false
	}
	w.Header().Set("Cache-Control", "no-store")

	session, ok := h.currentSession(r)
	if !ok {
		target := "/login?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		http.Redirect(w, r, target, http.StatusSeeOther)
		return auth.Session{}, false
	}
	return session, true
}

// safeNext only allows same-site absolute paths.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return "/"
	}
	return next
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http request",
			"rid", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// throttleKey is the peer address, or the nearest untrusted hop in
// X-Forwarded-For when the peer is a trusted proxy.
func (h *handler) throttleKey(r *http.Request) string {
	peer := remoteHost(r)
	if !h.trusted(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !h.trusted(hop) {
			return hop
		}
	}
	return peer
}

func (h *handler) trusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// clientIP is the best-effort client address recorded in audit detail.
func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remoteHost(r)
}

func auditReq(a AuditLogger, r *http.Request, actor, action, target, outcome, sessionID, detail string) {
	parts := []string{
		"rid=" + requestIDFromContext(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if sessionID != "" {
		parts = append(parts, "sid="+sessionID)
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	auditSafe(a, actor, action, target, outcome, strings.Join(parts, " | "))
}

func auditSafe(a AuditLogger, actor, action, target, outcome, detail string) {
	if a == nil {
		return
	}
	_ = a.Log(actor, action, target, outcome, detail)
}
