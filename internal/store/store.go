// Package store persists KPIs, deliverables and discrepancy records in a
// SQLite file. Records are stored as JSON documents next to the columns
// needed for lookup and uniqueness.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"kpiboard/internal/apperr"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/kpi"
)

const (
	dialectSQLite = "sqlite3"

	tableKPIs          = "kpis"
	tableDeliverables  = "deliverables"
	tableDiscrepancies = "discrepancies"

	colID               = "id"
	colKPIID            = "kpi_id"
	colCreatorID        = "creator_id"
	colIndex            = "idx"
	colDeliverableID    = "deliverable_id"
	colDeliverableIndex = "deliverable_index"
	colPeriodLabel      = "period_label"
	colAssigneeID       = "assignee_id"
	colResolved         = "resolved"
	colDoc              = "doc_json"
	colCreatedAt        = "created_at"
	colUpdatedAt        = "updated_at"

	// Fixed width so text comparison orders timestamps.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store manages kpiboard state in SQLite.
type Store struct {
	DBPath string
	db     *sqlx.DB
}

// Filter narrows ListDiscrepancies. Zero fields match everything.
type Filter struct {
	KPIID         string
	AssigneeID    string
	DeliverableID string
	Resolved      *bool
}

// Open opens or creates the state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state db dir: %w", err)
	}

	db, err := sqlx.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	store := &Store{
		DBPath: absPath,
		db:     db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS kpis (
	id TEXT PRIMARY KEY,
	creator_id TEXT NOT NULL,
	doc_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deliverables (
	id TEXT PRIMARY KEY,
	kpi_id TEXT NOT NULL REFERENCES kpis(id),
	idx INTEGER NOT NULL,
	doc_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliverables_kpi ON deliverables(kpi_id, idx);

CREATE TABLE IF NOT EXISTS discrepancies (
	id TEXT PRIMARY KEY,
	kpi_id TEXT NOT NULL,
	deliverable_id TEXT NOT NULL,
	deliverable_index INTEGER NOT NULL,
	period_label TEXT NOT NULL DEFAULT '',
	assignee_id TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	doc_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (kpi_id, deliverable_id, period_label, assignee_id)
);

CREATE INDEX IF NOT EXISTS idx_discrepancies_assignee ON discrepancies(assignee_id, resolved);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

// Tx is a unit of work. All reads and writes through one Tx commit together.
type Tx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

// WithTx runs fn in a transaction, committing when it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PutKPIs imports kpis in one transaction; either all are stored or none.
// On re-import descriptive fields are refreshed while status, scores and
// occurrences are kept. Deliverables missing from a KPI are left in place.
// created[i] reports whether kpis[i] was new.
func (s *Store) PutKPIs(ctx context.Context, kpis ...kpi.KPI) ([]bool, error) {
	created := make([]bool, len(kpis))
	err := s.WithTx(ctx, func(tx *Tx) error {
		for i, k := range kpis {
			isNew, err := tx.putKPI(k)
			if err != nil {
				return err
			}
			created[i] = isNew
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetKPI returns a KPI with its deliverables in index order.
func (s *Store) GetKPI(ctx context.Context, id string) (kpi.KPI, error) {
	return getKPI(ctx, s.db, id)
}

// ListKPIs returns every KPI with its deliverables.
func (s *Store) ListKPIs(ctx context.Context) ([]kpi.KPI, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, s.db, &ids, "SELECT id FROM kpis ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list kpis: %w", err)
	}
	out := make([]kpi.KPI, 0, len(ids))
	for _, id := range ids {
		k, err := getKPI(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// GetDeliverable returns one deliverable.
func (s *Store) GetDeliverable(ctx context.Context, id string) (kpi.Deliverable, error) {
	return getDeliverable(ctx, s.db, id)
}

// GetDiscrepancy returns one discrepancy record.
func (s *Store) GetDiscrepancy(ctx context.Context, id string) (discrepancy.Record, error) {
	return getDiscrepancy(ctx, s.db, id)
}

// ListDiscrepancies returns matching records, oldest first.
func (s *Store) ListDiscrepancies(ctx context.Context, f Filter) ([]discrepancy.Record, error) {
	return listDiscrepancies(ctx, s.db, f)
}

// Deliverable reads a deliverable inside the transaction.
func (t *Tx) Deliverable(id string) (kpi.Deliverable, error) {
	return getDeliverable(t.ctx, t.tx, id)
}

// SaveDeliverable validates and writes d over its stored version.
func (t *Tx) SaveDeliverable(d kpi.Deliverable) error {
	if err := d.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deliverable: %w", err)
	}
	query, args, err := goqu.Dialect(dialectSQLite).
		Update(tableDeliverables).
		Prepared(true).
		Set(goqu.Record{colIndex: d.Index, colDoc: string(doc), colUpdatedAt: formatTime(time.Now())}).
		Where(goqu.Ex{colID: d.ID}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build deliverable update: %w", err)
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update deliverable %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "deliverable %s not found", d.ID)
	}
	return nil
}

// Discrepancy reads a record inside the transaction.
func (t *Tx) Discrepancy(id string) (discrepancy.Record, error) {
	return getDiscrepancy(t.ctx, t.tx, id)
}

// SaveDiscrepancy writes rec over its stored version. The correlation key
// columns are immutable.
func (t *Tx) SaveDiscrepancy(rec discrepancy.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal discrepancy: %w", err)
	}
	query, args, err := goqu.Dialect(dialectSQLite).
		Update(tableDiscrepancies).
		Prepared(true).
		Set(goqu.Record{
			colResolved:  boolToInt(rec.Resolved),
			colDoc:       string(doc),
			colUpdatedAt: formatTime(rec.UpdatedAt),
		}).
		Where(goqu.Ex{colID: rec.ID}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build discrepancy update: %w", err)
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update discrepancy %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "discrepancy %s not found", rec.ID)
	}
	return nil
}

// InsertDiscrepancyIfAbsent inserts rec unless a record with the same
// correlation key exists, in which case the existing record is returned
// unchanged. The bool reports whether rec was inserted.
func (t *Tx) InsertDiscrepancyIfAbsent(rec discrepancy.Record) (discrepancy.Record, bool, error) {
	query, args, err := goqu.Dialect(dialectSQLite).
		From(tableDiscrepancies).
		Prepared(true).
		Select(colDoc).
		Where(goqu.Ex{
			colKPIID:         rec.KPIID,
			colDeliverableID: rec.DeliverableID,
			colPeriodLabel:   rec.PeriodLabel,
			colAssigneeID:    rec.AssigneeID,
		}).
		ToSQL()
	if err != nil {
		return discrepancy.Record{}, false, fmt.Errorf("build discrepancy lookup: %w", err)
	}
	var doc string
	err = t.tx.GetContext(t.ctx, &doc, query, args...)
	if err == nil {
		existing, err := decodeDiscrepancy(doc)
		return existing, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return discrepancy.Record{}, false, fmt.Errorf("check existing discrepancy: %w", err)
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return discrepancy.Record{}, false, fmt.Errorf("marshal discrepancy: %w", err)
	}
	query, args, err = goqu.Dialect(dialectSQLite).
		Insert(tableDiscrepancies).
		Prepared(true).
		Rows(goqu.Record{
			colID:               rec.ID,
			colKPIID:            rec.KPIID,
			colDeliverableID:    rec.DeliverableID,
			colDeliverableIndex: rec.DeliverableIndex,
			colPeriodLabel:      rec.PeriodLabel,
			colAssigneeID:       rec.AssigneeID,
			colResolved:         boolToInt(rec.Resolved),
			colDoc:              string(body),
			colCreatedAt:        formatTime(rec.CreatedAt),
			colUpdatedAt:        formatTime(rec.UpdatedAt),
		}).
		ToSQL()
	if err != nil {
		return discrepancy.Record{}, false, fmt.Errorf("build discrepancy insert: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
		return discrepancy.Record{}, false, fmt.Errorf("insert discrepancy: %w", err)
	}
	return rec, true, nil
}

func (t *Tx) putKPI(k kpi.KPI) (bool, error) {
	now := formatTime(time.Now())
	header := k
	header.Deliverables = nil
	doc, err := json.Marshal(header)
	if err != nil {
		return false, fmt.Errorf("marshal kpi: %w", err)
	}

	var count int
	if err := t.tx.GetContext(t.ctx, &count, "SELECT COUNT(*) FROM kpis WHERE id = ?", k.ID); err != nil {
		return false, fmt.Errorf("check existing kpi: %w", err)
	}
	created := count == 0
	if created {
		_, err = t.tx.ExecContext(t.ctx,
			"INSERT INTO kpis (id, creator_id, doc_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			k.ID, k.CreatorID, string(doc), now, now)
	} else {
		_, err = t.tx.ExecContext(t.ctx,
			"UPDATE kpis SET creator_id = ?, doc_json = ?, updated_at = ? WHERE id = ?",
			k.CreatorID, string(doc), now, k.ID)
	}
	if err != nil {
		return false, fmt.Errorf("write kpi %s: %w", k.ID, err)
	}

	for _, d := range k.Deliverables {
		d.KPIID = k.ID
		existing, err := t.Deliverable(d.ID)
		switch {
		case err == nil:
			merged, err := mergeDeliverable(existing, d)
			if err != nil {
				return false, err
			}
			if err := t.SaveDeliverable(merged); err != nil {
				return false, err
			}
		case apperr.Is(err, apperr.KindNotFound):
			if err := t.insertDeliverable(d, now); err != nil {
				return false, err
			}
		default:
			return false, err
		}
	}
	return created, nil
}

func (t *Tx) insertDeliverable(d kpi.Deliverable, now string) error {
	if d.Status == "" {
		d.Status = kpi.StatusPending
	}
	if err := d.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deliverable: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx,
		"INSERT INTO deliverables (id, kpi_id, idx, doc_json, updated_at) VALUES (?, ?, ?, ?, ?)",
		d.ID, d.KPIID, d.Index, string(doc), now)
	if err != nil {
		return fmt.Errorf("insert deliverable %s: %w", d.ID, err)
	}
	return nil
}

// mergeDeliverable refreshes authored fields of existing from incoming while
// keeping everything the scoring workflow wrote.
func mergeDeliverable(existing, incoming kpi.Deliverable) (kpi.Deliverable, error) {
	if existing.KPIID != incoming.KPIID {
		return kpi.Deliverable{}, apperr.New(apperr.KindValidation,
			"deliverable %s already belongs to kpi %s", existing.ID, existing.KPIID)
	}
	if existing.Mode != incoming.Mode && hasScores(existing) {
		return kpi.Deliverable{}, apperr.New(apperr.KindValidation,
			"deliverable %s has scores; its scheduling mode cannot change from %s to %s", existing.ID, existing.Mode, incoming.Mode)
	}
	merged := existing
	merged.Index = incoming.Index
	merged.Title = incoming.Title
	merged.Action = incoming.Action
	merged.Indicator = incoming.Indicator
	merged.PerformanceTarget = incoming.PerformanceTarget
	merged.Priority = incoming.Priority
	merged.Mode = incoming.Mode
	merged.Timeline = incoming.Timeline
	merged.Recurrence = incoming.Recurrence
	merged.RecurrenceText = incoming.RecurrenceText
	return merged, nil
}

func hasScores(d kpi.Deliverable) bool {
	return d.AssigneeScore != nil || d.CreatorScore != nil || len(d.Occurrences) > 0
}

func getKPI(ctx context.Context, q sqlx.QueryerContext, id string) (kpi.KPI, error) {
	var doc string
	err := sqlx.GetContext(ctx, q, &doc, "SELECT doc_json FROM kpis WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.KPI{}, apperr.New(apperr.KindNotFound, "kpi %s not found", id)
	}
	if err != nil {
		return kpi.KPI{}, fmt.Errorf("load kpi %s: %w", id, err)
	}
	var k kpi.KPI
	if err := json.Unmarshal([]byte(doc), &k); err != nil {
		return kpi.KPI{}, fmt.Errorf("decode kpi %s: %w", id, err)
	}

	var docs []string
	if err := sqlx.SelectContext(ctx, q, &docs, "SELECT doc_json FROM deliverables WHERE kpi_id = ? ORDER BY idx, id", id); err != nil {
		return kpi.KPI{}, fmt.Errorf("load deliverables of %s: %w", id, err)
	}
	k.Deliverables = make([]kpi.Deliverable, 0, len(docs))
	for _, doc := range docs {
		var d kpi.Deliverable
		if err := json.Unmarshal([]byte(doc), &d); err != nil {
			return kpi.KPI{}, fmt.Errorf("decode deliverable of %s: %w", id, err)
		}
		k.Deliverables = append(k.Deliverables, d)
	}
	return k, nil
}

func getDeliverable(ctx context.Context, q sqlx.QueryerContext, id string) (kpi.Deliverable, error) {
	var doc string
	err := sqlx.GetContext(ctx, q, &doc, "SELECT doc_json FROM deliverables WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Deliverable{}, apperr.New(apperr.KindNotFound, "deliverable %s not found", id)
	}
	if err != nil {
		return kpi.Deliverable{}, fmt.Errorf("load deliverable %s: %w", id, err)
	}
	var d kpi.Deliverable
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return kpi.Deliverable{}, fmt.Errorf("decode deliverable %s: %w", id, err)
	}
	return d, nil
}

func getDiscrepancy(ctx context.Context, q sqlx.QueryerContext, id string) (discrepancy.Record, error) {
	var doc string
	err := sqlx.GetContext(ctx, q, &doc, "SELECT doc_json FROM discrepancies WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return discrepancy.Record{}, apperr.New(apperr.KindNotFound, "discrepancy %s not found", id)
	}
	if err != nil {
		return discrepancy.Record{}, fmt.Errorf("load discrepancy %s: %w", id, err)
	}
	return decodeDiscrepancy(doc)
}

func listDiscrepancies(ctx context.Context, q sqlx.QueryerContext, f Filter) ([]discrepancy.Record, error) {
	where := goqu.Ex{}
	if f.KPIID != "" {
		where[colKPIID] = f.KPIID
	}
	if f.AssigneeID != "" {
		where[colAssigneeID] = f.AssigneeID
	}
	if f.DeliverableID != "" {
		where[colDeliverableID] = f.DeliverableID
	}
	if f.Resolved != nil {
		where[colResolved] = boolToInt(*f.Resolved)
	}

	ds := goqu.Dialect(dialectSQLite).
		From(tableDiscrepancies).
		Prepared(true).
		Select(colDoc).
		Order(goqu.I(colCreatedAt).Asc(), goqu.I(colID).Asc())
	if len(where) > 0 {
		ds = ds.Where(where)
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build discrepancy query: %w", err)
	}

	var docs []string
	if err := sqlx.SelectContext(ctx, q, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("list discrepancies: %w", err)
	}
	out := make([]discrepancy.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeDiscrepancy(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeDiscrepancy(doc string) (discrepancy.Record, error) {
	var rec discrepancy.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return discrepancy.Record{}, fmt.Errorf("decode discrepancy: %w", err)
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
