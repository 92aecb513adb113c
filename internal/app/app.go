package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"convertly/web/internal/audit"
	"convertly/web/internal/auth"
	"convertly/web/internal/config"
	"convertly/web/internal/convert"
	"convertly/web/internal/httpserver"
	"convertly/web/internal/observability"
)

const sessionPruneInterval = time.Minute

type App struct {
	cfg     config.Config
	log     *slog.Logger
	auth    *auth.Service
	audit   *audit.Logger
	server  *httpserver.Server
	closers []func() error
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.LogLevel)
	a := &App{cfg: cfg, log: logger}

	userStore, sessionStore, err := a.openStores()
	if err != nil {
		a.close()
		return nil, err
	}

	authService, err := auth.NewService(userStore, auth.ServiceConfig{
		SessionTTL:   cfg.Auth.SessionTTL,
		BcryptCost:   cfg.Auth.BcryptCost,
		SessionStore: sessionStore,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create auth service: %w", err)
	}
	a.auth = authService

	convertService, err := newConvertService(cfg.Convert, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.audit = audit.NewLogger(cfg.AuditLogFile)
	a.closers = append(a.closers, a.audit.Close)

	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Auth:            authService,
		Convert:         convertService,
		Audit:           a.audit,
		Logger:          logger,
		StaticDir:       cfg.StaticDir,
		CookieSecure:    cfg.Auth.CookieSecure,
		MaxUploadBytes:  cfg.Convert.MaxUploadBytes,
		LoginRatePerMin: cfg.Auth.LoginRatePerMin,
		LoginBurst:      cfg.Auth.LoginBurst,
		TrustedProxies:  cfg.HTTP.TrustedProxies,
	})
	return a, nil
}

// openStores picks Postgres when DATABASE_URL is set, then SQLite, then
// an in-memory store.
func (a *App) openStores() (auth.UserStore, auth.SessionStore, error) {
	switch {
	case a.cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", a.cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Ping(); err != nil {
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		users, err := auth.NewPostgresUserStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres user store: %w", err)
		}
		sessions, err := auth.NewPostgresSessionStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres session store: %w", err)
		}
		a.log.Info("user store ready", "backend", "postgres")
		return users, sessions, nil
	case a.cfg.SQLitePath != "":
		users, err := auth.NewSQLiteUserStore(a.cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("create sqlite user store: %w", err)
		}
		a.closers = append(a.closers, users.Close)
		sessions, err := users.Sessions()
		if err != nil {
			return nil, nil, fmt.Errorf("create sqlite session store: %w", err)
		}
		a.log.Info("user store ready", "backend", "sqlite", "path", a.cfg.SQLitePath)
		return users, sessions, nil
	default:
		a.log.Warn("no database configured; accounts will not survive a restart")
		return auth.NewInMemoryUserStore(), nil, nil
	}
}

func newConvertService(cfg config.ConvertConfig, logger *slog.Logger) (*convert.Service, error) {
	ws, err := convert.NewWorkspace(cfg.UploadDir, cfg.ConvertedDir)
	if err != nil {
		return nil, fmt.Errorf("create conversion workspace: %w", err)
	}

	docx := convert.NewDocxConverter(cfg.SofficePath)
	if !docx.Available() {
		logger.Warn("soffice not found; docx conversions will fail", "soffice", cfg.SofficePath)
	}

	dispatcher, err := convert.NewDispatcher(map[convert.Format]convert.Converter{
		convert.FormatDOCX: docx,
		convert.FormatTXT:  convert.NewTextExtractor(),
	}, cfg.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("create conversion dispatcher: %w", err)
	}

	svc, err := convert.NewService(ws, dispatcher, logger)
	if err != nil {
		return nil, fmt.Errorf("create conversion service: %w", err)
	}
	return svc, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()
	go a.pruneSessions(ctx)

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}

func (a *App) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.auth.PruneExpired()
			if err != nil {
				a.log.Warn("prune sessions failed", "err", err)
				continue
			}
			if n > 0 {
				a.log.Debug("expired sessions pruned", "count", n)
			}
		}
	}
}

// close releases resources in reverse order of acquisition.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close resource failed", "err", err)
		}
	}
	a.closers = nil
}
