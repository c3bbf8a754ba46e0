package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/approval"
	approvaldomain "github.com/smallbiznis/payflow/internal/approval/domain"
	"github.com/smallbiznis/payflow/internal/audit"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	"github.com/smallbiznis/payflow/internal/batch"
	batchdomain "github.com/smallbiznis/payflow/internal/batch/domain"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/document"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/internal/lock"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/notification"
	"github.com/smallbiznis/payflow/internal/observability"
	"github.com/smallbiznis/payflow/internal/sequence"
	"github.com/smallbiznis/payflow/internal/server"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		notification.Module,

		// Workflow engine
		sequence.Module,
		audit.Module,
		document.Module,
		approval.Module,
		batch.Module,

		server.Module,

		fx.Invoke(ensureEngine),
	)
	app.Run()
}

// ensureEngine builds the engine services at startup so a broken graph
// fails before the process reports healthy.
func ensureEngine(
	_ documentdomain.Service,
	_ approvaldomain.Service,
	_ batchdomain.Service,
	_ auditdomain.Trail,
) {
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
