// Package scoring records assignee and creator scores, changes deliverable
// status and drives discrepancy records through meeting and resolution.
//
// Every operation validates its input and authorizes the caller before
// touching the evidence store or the database. Evidence is uploaded before
// the write transaction and removed again when the transaction fails.
package scoring

import (
	"context"
	"time"

	"kpiboard/internal/apperr"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/evidence"
	"kpiboard/internal/kpi"
	"kpiboard/internal/logger"
	"kpiboard/internal/store"
)

// Repository is the persistence the service needs.
type Repository interface {
	PutKPIs(ctx context.Context, kpis ...kpi.KPI) ([]bool, error)
	GetKPI(ctx context.Context, id string) (kpi.KPI, error)
	ListKPIs(ctx context.Context) ([]kpi.KPI, error)
	GetDeliverable(ctx context.Context, id string) (kpi.Deliverable, error)
	GetDiscrepancy(ctx context.Context, id string) (discrepancy.Record, error)
	ListDiscrepancies(ctx context.Context, f store.Filter) ([]discrepancy.Record, error)
	WithTx(ctx context.Context, fn func(tx *store.Tx) error) error
}

// Auditor appends to the audit trail.
type Auditor interface {
	LogEvent(actor string, eventType string, payload any) error
}

// Options configures a Service. Zero values get defaults.
type Options struct {
	Evidence      evidence.Store
	Audit         Auditor
	Logger        *logger.Logger
	Clock         func() time.Time
	Location      *time.Location
	UploadTimeout time.Duration
}

// Service implements the scoring and resolution workflow.
type Service struct {
	repo          Repository
	evidence      evidence.Store
	audit         Auditor
	log           *logger.Logger
	clock         func() time.Time
	loc           *time.Location
	uploadTimeout time.Duration
}

// NewService wires a Service.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:          repo,
		evidence:      opts.Evidence,
		audit:         opts.Audit,
		log:           opts.Logger,
		clock:         opts.Clock,
		loc:           opts.Location,
		uploadTimeout: opts.UploadTimeout,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = 30 * time.Second
	}
	return s
}

// now returns the current time in the configured zone; period labels are
// computed from it.
func (s *Service) now() time.Time {
	return s.clock().In(s.loc)
}

func (s *Service) record(actor, eventType string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogEvent(actor, eventType, payload); err != nil {
		s.log.Error("audit write failed", "event", eventType, "error", err)
	}
}

// discard rolls back evidence uploaded for a write that did not commit.
func (s *Service) discard(ctx context.Context, stored []evidence.Stored) {
	if err := evidence.Discard(ctx, s.evidence, stored); err != nil {
		s.log.Error("evidence rollback failed", "objects", len(stored), "error", err)
	}
}

// reject logs a refused operation at Warn and passes err through.
func (s *Service) reject(op string, caller kpi.Identity, target string, err error) error {
	s.log.Warn("operation rejected",
		"op", op,
		"actor", caller.UserID,
		"target", target,
		"kind", apperr.KindOf(err),
		"error", err.Error(),
	)
	return err
}

func requireCaller(caller kpi.Identity) error {
	if caller.UserID == "" {
		return apperr.New(apperr.KindNotAuthorized, "caller identity is required")
	}
	return nil
}

func keyFor(d kpi.Deliverable, periodLabel, assigneeID string) discrepancy.Key {
	return discrepancy.Key{
		KPIID:            d.KPIID,
		DeliverableID:    d.ID,
		DeliverableIndex: d.Index,
		PeriodLabel:      periodLabel,
		AssigneeID:       assigneeID,
	}
}
