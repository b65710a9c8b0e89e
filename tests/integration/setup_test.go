package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/contavoz/internal/adapter/cache"
	pgstore "github.com/seu-repo/contavoz/internal/adapter/storage/postgres"
	"github.com/seu-repo/contavoz/internal/ports"
)

// TestEnv holds the shared resources of the integration suite. Containers
// are started once and reused across tests; tables are cleaned per test.
type TestEnv struct {
	DB     *gorm.DB
	Cache  ports.Cache
	Logger *zap.Logger

	pgContainer    testcontainers.Container
	redisContainer testcontainers.Container
	ctx            context.Context
}

var testEnv *TestEnv

// SetupTestEnvironment connects to external services when DATABASE_URL is
// set (CI), otherwise starts throwaway containers.
func SetupTestEnvironment(t *testing.T) *TestEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()
	if os.Getenv("DATABASE_URL") != "" {
		return setupExternalServices(t, ctx)
	}
	return setupContainers(t, ctx)
}

func setupExternalServices(t *testing.T, ctx context.Context) *TestEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	db, err := pgstore.NewConnection(os.Getenv("DATABASE_URL"), logger)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := pgstore.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	c, err := cache.NewRedisCache(redisURL, logger)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}

	testEnv = &TestEnv{
		DB:     db,
		Cache:  c,
		Logger: logger,
		ctx:    ctx,
	}
	return testEnv
}

func setupContainers(t *testing.T, ctx context.Context) *TestEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("contavoz_test"),
		tcpostgres.WithUsername("contavoz"),
		tcpostgres.WithPassword("contavoz_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	pgURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get postgres connection string: %v", err)
	}

	db, err := pgstore.NewConnection(pgURL, logger)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	if err := pgstore.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}

	redisURL, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis connection string: %v", err)
	}

	c, err := cache.NewRedisCache(redisURL, logger)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}

	testEnv = &TestEnv{
		DB:             db,
		Cache:          c,
		Logger:         logger,
		pgContainer:    pgContainer,
		redisContainer: redisContainer,
		ctx:            ctx,
	}
	return testEnv
}

// TeardownTestEnvironment releases containers and connections.
func TeardownTestEnvironment(t *testing.T) {
	if testEnv == nil {
		return
	}
	ctx := context.Background()

	if testEnv.Cache != nil {
		testEnv.Cache.Close()
	}
	if testEnv.DB != nil {
		pgstore.Close(testEnv.DB)
	}
	if testEnv.pgContainer != nil {
		if err := testEnv.pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	}
	if testEnv.redisContainer != nil {
		if err := testEnv.redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	}
	testEnv = nil
}

// CleanDatabase empties the ledger tables between tests.
func CleanDatabase(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, table := range []string{"transactions", "learned_intents", "budgets"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("Failed to clean %s: %v", table, err)
		}
	}
}

func TestMain(m *testing.M) {
	code := m.Run()
	if testEnv != nil {
		ctx := context.Background()
		if testEnv.pgContainer != nil {
			_ = testEnv.pgContainer.Terminate(ctx)
		}
		if testEnv.redisContainer != nil {
			_ = testEnv.redisContainer.Terminate(ctx)
		}
	}
	os.Exit(code)
}
