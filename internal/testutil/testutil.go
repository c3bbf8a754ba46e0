// Package testutil builds the fixtures shared by service tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory SQLite database with the full schema.
// A single connection serializes transactions the way row locks would.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", sanitize(t.Name()))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))
	return conn
}

// NewNode returns a snowflake node for id generation.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// NewClock returns a fake clock fixed at 2026-02-15 09:00 UTC.
func NewClock() *clock.FakeClock {
	return clock.NewFakeClock(time.Date(2026, time.February, 15, 9, 0, 0, 0, time.UTC))
}

// WorkflowConfig returns the default rules with a lock budget generous enough
// for contended tests.
func WorkflowConfig(mutate ...func(*config.WorkflowConfig)) *config.WorkflowConfigHolder {
	cfg := config.DefaultWorkflowConfig()
	cfg.Sequence.MaxAttempts = 100
	for _, fn := range mutate {
		fn(&cfg)
	}
	return config.NewStaticWorkflowConfigHolder(cfg)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func sanitize(name string) string {
	return strings.NewReplacer("/", "_", " ", "_", "#", "_", "?", "_", "&", "_", "=", "_").Replace(name)
}
