//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/learnly/platform/internal/app"
	"github.com/learnly/platform/internal/auth"
	"github.com/learnly/platform/internal/guard"
	"github.com/learnly/platform/internal/infra"
	"github.com/learnly/platform/internal/provider"
	"github.com/shopspring/decimal"
)

const (
	TestJWTSecret     = "integration-test-secret-at-least-32-chars"
	TestWebhookSecret = "whsec_test_integration_secret"
	TestDBHost        = "localhost"
	TestDBPort        = 5435
	TestDBUser        = "learnly"
	TestDBPass        = "learnly"
	TestDBName        = "learnly_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server   *httptest.Server
	Gateway  *FakeGateway
	Pool     *pgxpool.Pool
	JWTMgr   *auth.JWTManager
	Verifier *provider.SignatureVerifier
	t        *testing.T
}

// FakeGateway answers order creation calls with sequential order ids.
type FakeGateway struct {
	*httptest.Server
	orders atomic.Int64
}

func newFakeGateway() *FakeGateway {
	g := &FakeGateway{}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req provider.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := g.orders.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(provider.Order{
			ID:       fmt.Sprintf("order_it_%04d", n),
			Amount:   req.Amount,
			Currency: req.Currency,
			Receipt:  req.Receipt,
			Status:   "created",
		})
	}))
	return g
}

// Orders returns how many orders the gateway has created.
func (g *FakeGateway) Orders() int64 { return g.orders.Load() }

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "learnly")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to the main database to create the test database
	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		_, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName))
		if err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}

	return nil
}

func runMigrations() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return infra.RunMigrations(testDSN(), filepath.Join(findProjectRoot(), "db", "migrations"), logger)
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}
		if err := runMigrations(); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// testConfig mirrors the production defaults with the fake gateway wired in.
func testConfig(gatewayURL string) *infra.Config {
	return &infra.Config{
		JWTSecret:            TestJWTSecret,
		GatewayBaseURL:       gatewayURL,
		GatewayKeyID:         "key_it",
		GatewayKeySecret:     "secret_it",
		GatewayWebhookSecret: TestWebhookSecret,
		GatewayTimeout:       5 * time.Second,
		InvoicePrefix:        "FT",
		FiscalYearStartMonth: 4,
		TaxRate:              decimal.RequireFromString("0.18"),
		CircuitMaxFailures:   5,
		CircuitResetTimeout:  30 * time.Second,
		CORSAllowedOrigins:   "*",
	}
}

// NewTestEnv creates a test environment with an httptest.Server backed by the real router and test DB.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	gateway := newFakeGateway()

	jwtMgr := auth.NewJWTManager(TestJWTSecret, 24*time.Hour, 8*time.Hour, 12*time.Hour)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	router := app.NewRouter(app.RouterDeps{
		Pool:    pool,
		Config:  testConfig(gateway.URL),
		JWTMgr:  jwtMgr,
		Logger:  logger,
		Limiter: guard.NewRateLimiter(1000, time.Minute),
	})

	server := httptest.NewServer(router)

	env := &TestEnv{
		Server:   server,
		Gateway:  gateway,
		Pool:     pool,
		JWTMgr:   jwtMgr,
		Verifier: provider.NewSignatureVerifier(TestWebhookSecret),
		t:        t,
	}

	t.Cleanup(func() {
		server.Close()
		gateway.Close()
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}
