package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	"github.com/odyssey-erp/aeat111/internal/aeat111/calc"
	"github.com/odyssey-erp/aeat111/internal/aeat111/mapping"
	"github.com/odyssey-erp/aeat111/internal/aeat111/periods"
	"github.com/odyssey-erp/aeat111/internal/ledger"
	"github.com/odyssey-erp/aeat111/internal/shared"
)

// Services bundles the declaration services shared by the API and the worker.
type Services struct {
	Reports     *aeat111.Service
	Mappings    *mapping.Service
	Idempotency *shared.IdempotencyStore
}

// NewServices wires the repositories behind pool. registerer receives the
// report metrics; nil selects the default registerer.
func NewServices(pool *pgxpool.Pool, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) *Services {
	ledgerRepo := ledger.NewRepository(pool)
	mappings := mapping.NewService(mapping.NewRepository(pool), logger)

	reports := aeat111.NewService(
		aeat111.NewRepository(pool),
		ledgerRepo,
		mappings,
		periods.NewService(periods.NewRepository(pool)),
		calc.NewEngine(ledgerRepo),
		aeat111.Options{
			MaxParties: cfg.MaxParties,
			Producer: aeat111.Producer{
				ProgramVersion: cfg.ProgramVersion,
				DeveloperVAT:   cfg.DeveloperVAT,
			},
		},
	)
	reports.WithLogger(logger)
	reports.WithAudit(shared.NewAuditLogger(pool))
	reports.WithMetrics(aeat111.NewMetrics(registerer))

	return &Services{
		Reports:     reports,
		Mappings:    mappings,
		Idempotency: shared.NewIdempotencyStore(pool),
	}
}
