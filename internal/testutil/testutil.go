// Package testutil provides shared helpers for integration and unit tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/comicden/recotrack/internal/migrate"
)

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// RunMigrations delegates to the shared migrate package to apply production migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// TestDBConfig holds configuration for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns default test database configuration.
// Defaults to port 55432 (local test DB from docker-compose test profile).
// CI environments should set TEST_DB_PORT=5432 explicitly.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "recotrack"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "recotrack"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "recotrack"),
	}
}

func testDSN(cfg TestDBConfig) string {
	hostPort := net.JoinHostPort(cfg.Host, cfg.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		cfg.User, cfg.Password, hostPort, cfg.DBName)
}

// SkipIfNoTestDB skips the test if the test database is not available.
// Set TEST_REQUIRE_DB=1 to fail instead of skip (for CI).
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", testDSN(DefaultTestDBConfig()))
	if err != nil {
		if requireDB() {
			t.Fatal("Test database not available:", err)
		}
		t.Skip("Test database not available:", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			t.Logf("test db close failed: %v", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if requireDB() {
			t.Fatal("Test database not available:", pingErr)
		}
		t.Skip("Test database not available:", pingErr)
	}
}

// SetupTestDB creates a test database connection, runs migrations and clears
// any leftover data.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", testDSN(DefaultTestDBConfig()))
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		t.Fatal("Failed to connect to test database. Make sure PostgreSQL is running (docker-compose up -d):", pingErr)
	}

	if migrateErr := RunMigrations(ctx, db); migrateErr != nil {
		t.Fatal("Failed to run migrations:", migrateErr)
	}

	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB removes all test data from the database.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "DELETE FROM recognition_jobs"); err != nil {
		t.Fatalf("Failed to clean up table recognition_jobs: %v", err)
	}
}

// TeardownTestDB cleans up and closes the database connection.
func TeardownTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	if db != nil {
		CleanupTestDB(t, db)
		if err := db.Close(); err != nil {
			t.Fatal("Failed to close database:", err)
		}
	}
}

// WithTestDB is a helper that sets up and tears down a test database.
func WithTestDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	db := SetupTestDB(t)
	defer TeardownTestDB(t, db)
	fn(db)
}

// SetupMiniRedis starts an in-process Redis server and returns it together
// with a client bound to it. Both are torn down via t.Cleanup.
func SetupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close miniredis client: %v", err)
		}
	})
	return srv, client
}

// SetupTestRedis creates a Redis client against a real server when one is
// reachable, falling back to skip. Most tests should prefer SetupMiniRedis;
// this exists for tests that exercise server behaviors miniredis lacks.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:56379")
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			t.Logf("warning: failed to close redis client after ping error: %v", cerr)
		}
		if requireRedis() {
			t.Fatalf("Redis not available for testing at %s: %v", addr, err)
		}
		t.Skipf("Redis not available for testing at %s: %v", addr, err)
	}

	client.FlushDB(ctx)
	return client
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// Common pointer helper functions for tests.

// StringPtr returns a pointer to the given string value.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to the given int value.
func IntPtr(i int) *int {
	return &i
}

// TimePtr returns a pointer to the given time value.
func TimePtr(t time.Time) *time.Time {
	return &t
}
