// Command waitforpostgres blocks until the configured Postgres accepts
// connections. CI runs it before the integration tests.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

const pingInterval = 2 * time.Second

type pinger interface {
	PingContext(ctx context.Context) error
}

func main() {
	dsn := firstNonEmpty(os.Getenv("TEST_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "TEST_POSTGRES_DSN or DATABASE_URL is required")
		os.Exit(2)
	}

	timeout, err := parseTimeout(os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"), 60*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := waitFor(context.Background(), db, timeout, pingInterval); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("postgres ready")
}

// waitFor pings until success or until timeout has elapsed.
func waitFor(ctx context.Context, db pinger, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := db.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("postgres not ready within %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func parseTimeout(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC: %q", raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
