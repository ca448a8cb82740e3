// Package bootstrap wires repositories, sinks and services from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	appApproval "github.com/execution-hub/bizrules/internal/application/approval"
	appAudit "github.com/execution-hub/bizrules/internal/application/audit"
	"github.com/execution-hub/bizrules/internal/application/escalation"
	"github.com/execution-hub/bizrules/internal/application/notify"
	appReport "github.com/execution-hub/bizrules/internal/application/report"
	appSLA "github.com/execution-hub/bizrules/internal/application/sla"
	"github.com/execution-hub/bizrules/internal/config"
	"github.com/execution-hub/bizrules/internal/domain/approval"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/business"
	"github.com/execution-hub/bizrules/internal/domain/directory"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	"github.com/execution-hub/bizrules/internal/domain/sla"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
	"github.com/execution-hub/bizrules/internal/infrastructure/kafka"
	"github.com/execution-hub/bizrules/internal/infrastructure/memory"
	"github.com/execution-hub/bizrules/internal/infrastructure/postgres"
	"github.com/execution-hub/bizrules/internal/infrastructure/redisstore"
	"github.com/execution-hub/bizrules/internal/infrastructure/sse"
)

// Stores groups every persistence port the services depend on.
type Stores struct {
	Approvals approval.Repository
	Audit     audit.Repository
	Policies  sla.PolicyRepository
	Trackers  sla.TrackerRepository
	Checks    sla.CheckQueue
	Directory directory.Directory
	Tickets   ticket.Store
	Business  business.Store
	Inbox     notification.Inbox
}

// App is the assembled engine.
type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Stores   Stores
	Hub      *sse.Hub
	Audit    *appAudit.Service
	Notifier *notify.Service
	Approval *appApproval.Service
	SLA      *appSLA.Service
	Report   *appReport.Service

	closers []func()
	logger  zerolog.Logger
}

// New builds the engine for cfg. Migrations are applied when migrate is set and a
// Postgres store is in use.
func New(ctx context.Context, cfg *config.Config, migrate bool, logger zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Hub: sse.NewHub(), logger: logger}

	if cfg.StoreBackend == config.BackendPostgres {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		app.Pool = pool
		app.closers = append(app.closers, pool.Close)
		if migrate {
			applied, err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir)
			if err != nil {
				app.Close()
				return nil, fmt.Errorf("migration error: %w", err)
			}
			if len(applied) > 0 {
				logger.Info().Strs("migrations", applied).Msg("migrations applied")
			}
		}
		app.Stores = postgresStores(pool)
	} else {
		logger.Warn().Msg("using in-memory stores; state is lost on restart")
		app.Stores = memoryStores()
	}

	if cfg.TrackerBackend == config.BackendRedis {
		client := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		app.closers = append(app.closers, func() { _ = client.Close() })
		app.Stores.Trackers = redisstore.NewTrackerRepository(client)
		app.Stores.Checks = redisstore.NewCheckQueue(client)
	}

	sinks := []notification.Sink{app.Hub, app.Stores.Inbox}
	if len(cfg.KafkaBrokers) > 0 {
		ks := kafka.NewSink(cfg.KafkaBrokers, cfg.KafkaNotificationTopic, logger)
		app.closers = append(app.closers, func() { _ = ks.Close() })
		sinks = append(sinks, ks)
	}
	app.closers = append(app.closers, app.Hub.Stop)

	app.Notifier = notify.NewService(logger, sinks...)
	app.Audit = appAudit.NewService(app.Stores.Audit, logger, cfg.AuditSigningKey)
	app.closers = append(app.closers, app.Audit.Wait)

	s := app.Stores
	dispatcher := escalation.NewDispatcher(s.Directory, s.Tickets, app.Notifier, cfg.ReassignWorkloadCap, logger)
	app.Approval = appApproval.NewService(s.Approvals, s.Directory, s.Business, app.Notifier, app.Audit, logger)
	app.SLA = appSLA.NewService(s.Policies, s.Trackers, s.Checks, s.Tickets, dispatcher, app.Notifier, app.Audit, logger)
	app.Report = appReport.NewService(s.Trackers, logger)
	return app, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func postgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Approvals: postgres.NewApprovalRepository(pool),
		Audit:     postgres.NewAuditRepository(pool),
		Policies:  postgres.NewPolicyRepository(pool),
		Trackers:  postgres.NewTrackerRepository(pool),
		Checks:    postgres.NewCheckQueue(pool),
		Directory: postgres.NewDirectoryRepository(pool),
		Tickets:   postgres.NewTicketRepository(pool),
		Business:  postgres.NewBusinessRepository(pool),
		Inbox:     postgres.NewNotificationRepository(pool),
	}
}

func memoryStores() Stores {
	return Stores{
		Approvals: memory.NewApprovalRepository(),
		Audit:     memory.NewAuditRepository(),
		Policies:  memory.NewPolicyRepository(),
		Trackers:  memory.NewTrackerRepository(),
		Checks:    memory.NewCheckQueue(),
		Directory: memory.NewDirectory(),
		Tickets:   memory.NewTicketStore(),
		Business:  memory.NewBusinessStore(),
		Inbox:     memory.NewNotificationInbox(),
	}
}
