// Package exec implements the executor (C8): it applies a compiled plan
// against a database/sql connection in the fixed DML order spec.md §4.8
// requires — founding inserts, back-fill of generated identities onto the
// rest of a new entity's rows, remaining new-entity inserts, existing-entity
// inserts, updates in plan_op_seq order, then deletes — with foreign-key
// constraints deferred for the duration of the batch. spec.md §5 requires
// every one of these phases to run inside a single host transaction with no
// internal parallelism, so Apply pins one *sql.Conn for the whole call and
// runs every DML statement of the batch through one *sql.Tx on it.
//
// Statement execution, span wrapping, and transient-error retry are ported
// from internal/storage/dolt/store.go's execContext/withRetry/
// isRetryableError trio, generalized from beads' fixed issue-table DML to
// arbitrary (table, columns) shapes driven by catalog.EraMetadata.
package exec

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/temporalmerge/tmerge/internal/tm/model"
	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

const retryMaxElapsed = 30 * time.Second

var execTracer = otel.Tracer("github.com/temporalmerge/tmerge/tm/exec")

var execMetrics struct {
	retryCount metric.Int64Counter
	opsApplied metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/temporalmerge/tmerge/tm/exec")
	execMetrics.retryCount, _ = m.Int64Counter("tmerge.exec.retry_count",
		metric.WithDescription("DML statements retried due to transient connection errors"),
		metric.WithUnit("{retry}"),
	)
	execMetrics.opsApplied, _ = m.Int64Counter("tmerge.exec.ops_applied",
		metric.WithDescription("Plan operations applied, by op class"),
		metric.WithUnit("{op}"),
	)
}

// Schema describes the physical table the executor writes to.
type Schema struct {
	Table            string
	ValidFromColumn  string
	ValidUntilColumn string
	IdentityColumns  []string
	// PKColumns is the single-column surrogate key the driver auto-generates
	// on insert (e.g. an AUTO_INCREMENT/INTEGER PRIMARY KEY column). Only
	// single-column surrogate keys support back-fill; composite PKs must
	// already be present in every row's payload.
	PKColumns []string

	// DeferConstraintsSQL/RestoreConstraintsSQL let a driver express its
	// own constraint-deferral dialect ("PRAGMA foreign_keys = OFF" for
	// sqlite, "SET FOREIGN_KEY_CHECKS=0" for dolt/mysql); empty means the
	// executor defers nothing.
	DeferConstraintsSQL   string
	RestoreConstraintsSQL string

	// DefaultedColumns maps a column carrying a server-side SQL default to
	// that default's expression (catalog.EraMetadata.DefaultedColumns,
	// spec.md §4.8): update() COALESCEs an incoming null for these columns
	// to the existing target value instead of overwriting it, and
	// insertStatement() omits them from an INSERT whenever the resolved
	// payload carries no explicit value, so sequence-backed defaults keep
	// generating their own values.
	DefaultedColumns map[string]string
}

// EntityPlan is one entity's plan operations plus whether that entity
// already had at least one row in the target before this batch — the fact
// the fixed DML order needs to tell a founding insert from an
// existing-entity insert (spec.md §4.8).
type EntityPlan struct {
	Entity            model.EntityKey
	HasExistingTarget bool
	Ops               []model.PlanOperation
}

// Result tallies what Apply did.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Executor applies compiled plans against db.
type Executor struct {
	db           *sql.DB
	schema       Schema
	retryEnabled bool

	// tx is non-nil only for the duration of an Apply call; every DML
	// statement Apply's phases issue runs through it so the whole batch
	// commits or rolls back as one unit (spec.md §5).
	tx *sql.Tx
}

// New returns an Executor. retryEnabled should be true only in server mode
// (a networked dolt/mysql connection); an embedded/local sqlite connection
// has no transient-connection failure mode to retry (store.go's own
// "server mode; embedded mode has driver-level retry" comment applies
// verbatim here).
func New(db *sql.DB, schema Schema, retryEnabled bool) *Executor {
	return &Executor{db: db, schema: schema, retryEnabled: retryEnabled}
}

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// isRetryableError reports whether err is a transient connection failure
// worth retrying (internal/storage/dolt/store.go's isRetryableError,
// trimmed to the driver-agnostic subset: it never retries a business-logic
// failure like a constraint violation).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "driver: bad connection"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "lost connection"),
		strings.Contains(errStr, "gone away"),
		strings.Contains(errStr, "i/o timeout"):
		return true
	default:
		return false
	}
}

func (e *Executor) withRetry(ctx context.Context, op func() error) error {
	if !e.retryEnabled {
		return op()
	}

	attempts := 0
	bo := newRetryBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		execMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

// execContext runs query through the in-flight transaction. It must only be
// called while e.tx is set, i.e. from within Apply's phases.
func (e *Executor) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := execTracer.Start(ctx, "tmerge.exec.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "tmerge"),
			attribute.String("db.operation", "exec"),
			attribute.String("db.statement", spanSQL(query)),
		),
	)
	var result sql.Result
	err := e.withRetry(ctx, func() error {
		var execErr error
		result, execErr = e.tx.ExecContext(ctx, query, args...)
		return execErr
	})
	endSpan(span, err)
	return result, err
}

// execOnConn runs a session-scoped statement (a constraint-deferral PRAGMA
// or SET) directly against conn, outside any transaction — SQLite treats
// `PRAGMA foreign_keys` as a no-op inside a transaction, and both dialects'
// constraint toggle is connection/session state, so it must run on the same
// physical connection the batch's transaction is opened on, before or after
// it, never through the tx itself.
func (e *Executor) execOnConn(ctx context.Context, conn *sql.Conn, query string) error {
	if query == "" {
		return nil
	}
	return e.withRetry(ctx, func() error {
		_, err := conn.ExecContext(ctx, query)
		return err
	})
}

// Apply runs plans' operations against the database in the fixed order
// required by spec.md §4.8, inside one host transaction pinned to one
// connection for the whole batch (spec.md §5's "single-threaded,
// transactional... no internal parallelism"), with constraints deferred for
// its duration.
func (e *Executor) Apply(ctx context.Context, plans []EntityPlan) (Result, error) {
	var res Result

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return res, tmerrors.Wrap("exec: acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	if err := e.execOnConn(ctx, conn, e.schema.DeferConstraintsSQL); err != nil {
		return res, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = e.execOnConn(ctx, conn, e.schema.RestoreConstraintsSQL)
		return res, tmerrors.Wrap("exec: begin transaction", err)
	}
	e.tx = tx
	defer func() { e.tx = nil }()

	abort := func(applyErr error) (Result, error) {
		_ = tx.Rollback()
		_ = e.execOnConn(ctx, conn, e.schema.RestoreConstraintsSQL)
		return res, applyErr
	}

	defer func() {
		if rerr := recover(); rerr != nil {
			_ = tx.Rollback()
			_ = e.execOnConn(ctx, conn, e.schema.RestoreConstraintsSQL)
			panic(rerr)
		}
	}()

	if err := e.applyNewEntityInserts(ctx, plans, &res); err != nil {
		return abort(err)
	}
	if err := e.applyExistingEntityInserts(ctx, plans, &res); err != nil {
		return abort(err)
	}
	if err := e.applyUpdates(ctx, plans, &res); err != nil {
		return abort(err)
	}
	if err := e.applyDeletes(ctx, plans, &res); err != nil {
		return abort(err)
	}

	if err := tx.Commit(); err != nil {
		_ = e.execOnConn(ctx, conn, e.schema.RestoreConstraintsSQL)
		return res, tmerrors.Wrap("exec: commit transaction", err)
	}
	return res, e.execOnConn(ctx, conn, e.schema.RestoreConstraintsSQL)
}

// applyNewEntityInserts handles the founding-insert + back-fill + remaining
// new-entity-insert phases. Each brand-new entity's chain runs sequentially,
// in the order its founding insert's plan_op_seq falls in the batch — the
// rest of the executor's phases are equally sequential within one
// transaction (spec.md §5), so founding inserts don't get a concurrency
// exception either.
func (e *Executor) applyNewEntityInserts(ctx context.Context, plans []EntityPlan, res *Result) error {
	type founding struct {
		idx int
		seq int64
	}
	var order []founding
	for i, p := range plans {
		if p.HasExistingTarget {
			continue
		}
		for _, op := range p.Ops {
			if op.Op == model.OpInsert {
				order = append(order, founding{idx: i, seq: op.Seq})
				break
			}
		}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].seq < order[b].seq })

	for _, f := range order {
		n, err := e.insertNewEntityChain(ctx, plans[f.idx])
		res.Inserted += n
		if err != nil {
			return err
		}
	}
	return nil
}

// insertNewEntityChain inserts one brand-new entity's founding row, reads
// back its generated surrogate key, and back-fills that key onto the
// entity's other new-entity insert rows before inserting them.
func (e *Executor) insertNewEntityChain(ctx context.Context, p EntityPlan) (int, error) {
	var founding *model.PlanOperation
	var rest []model.PlanOperation
	for i := range p.Ops {
		if p.Ops[i].Op != model.OpInsert {
			continue
		}
		if founding == nil {
			founding = &p.Ops[i]
		} else {
			rest = append(rest, p.Ops[i])
		}
	}
	if founding == nil {
		return 0, nil
	}

	id, err := e.insertReturningID(ctx, p.Entity, *founding)
	if err != nil {
		return 0, err
	}
	inserted := 1
	execMetrics.opsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "insert")))

	for _, op := range rest {
		op = backfillSurrogateKey(op, id, e.schema.PKColumns)
		if err := e.insert(ctx, p.Entity, op); err != nil {
			return inserted, err
		}
		inserted++
		execMetrics.opsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "insert")))
	}
	return inserted, nil
}

func (e *Executor) applyExistingEntityInserts(ctx context.Context, plans []EntityPlan, res *Result) error {
	for _, p := range plans {
		if !p.HasExistingTarget {
			continue
		}
		for _, op := range p.Ops {
			if op.Op != model.OpInsert {
				continue
			}
			if err := e.insert(ctx, p.Entity, op); err != nil {
				return err
			}
			res.Inserted++
			execMetrics.opsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "insert")))
		}
	}
	return nil
}

func (e *Executor) applyUpdates(ctx context.Context, plans []EntityPlan, res *Result) error {
	var updates []struct {
		entity model.EntityKey
		op     model.PlanOperation
	}
	for _, p := range plans {
		for _, op := range p.Ops {
			if op.Op == model.OpUpdate {
				updates = append(updates, struct {
					entity model.EntityKey
					op     model.PlanOperation
				}{p.Entity, op})
			}
		}
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].op.Seq < updates[j].op.Seq })

	for _, u := range updates {
		if err := e.update(ctx, u.entity, u.op); err != nil {
			return err
		}
		res.Updated++
		execMetrics.opsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "update")))
	}
	return nil
}

func (e *Executor) applyDeletes(ctx context.Context, plans []EntityPlan, res *Result) error {
	for _, p := range plans {
		for _, op := range p.Ops {
			if op.Op != model.OpDelete {
				continue
			}
			if err := e.delete(ctx, p.Entity, op); err != nil {
				return err
			}
			res.Deleted++
			execMetrics.opsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "delete")))
		}
	}
	return nil
}

func backfillSurrogateKey(op model.PlanOperation, id int64, pkColumns []string) model.PlanOperation {
	if len(pkColumns) != 1 {
		return op
	}
	op.Data = op.Data.Clone()
	if op.Data == nil {
		op.Data = model.Payload{}
	}
	op.Data[pkColumns[0]] = id
	return op
}

// rowPayload is the full column set for an INSERT: identity columns, the
// valid-time range, and the resolved data payload (with any propagated
// StablePK layered on top, PK wins on conflict).
func (e *Executor) rowPayload(entity model.EntityKey, op model.PlanOperation) model.Payload {
	payload := op.Data.Clone()
	if payload == nil {
		payload = model.Payload{}
	}
	for k, v := range op.StablePK {
		payload[k] = v
	}
	for _, col := range e.schema.IdentityColumns {
		if v, ok := entity[col]; ok {
			payload[col] = v
		}
	}
	payload[e.schema.ValidFromColumn] = op.NewFrom
	payload[e.schema.ValidUntilColumn] = op.NewUntil
	return payload
}

func (e *Executor) insert(ctx context.Context, entity model.EntityKey, op model.PlanOperation) error {
	_, err := e.insertStatement(ctx, entity, op)
	return err
}

func (e *Executor) insertReturningID(ctx context.Context, entity model.EntityKey, op model.PlanOperation) (int64, error) {
	result, err := e.insertStatement(ctx, entity, op)
	if err != nil {
		return 0, err
	}
	if len(e.schema.PKColumns) != 1 {
		return 0, nil
	}
	return result.LastInsertId()
}

func (e *Executor) insertStatement(ctx context.Context, entity model.EntityKey, op model.PlanOperation) (sql.Result, error) {
	payload := e.rowPayload(entity, op)
	cols := make([]string, 0, len(payload))
	for _, col := range sortedKeys(payload) {
		// A defaulted column with no explicit resolved value is left out of
		// the INSERT entirely rather than set to NULL, so a sequence-backed
		// default keeps generating its own value for every inserted row
		// (spec.md §4.8).
		if _, defaulted := e.schema.DefaultedColumns[col]; defaulted && payload[col] == nil {
			continue
		}
		cols = append(cols, col)
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = payload[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		e.schema.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return e.execContext(ctx, query, args...)
}

func (e *Executor) update(ctx context.Context, entity model.EntityKey, op model.PlanOperation) error {
	payload := e.rowPayload(entity, op)
	cols := sortedKeys(payload)

	setClauses := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(e.schema.IdentityColumns)+2)
	for i, col := range cols {
		if _, defaulted := e.schema.DefaultedColumns[col]; defaulted {
			// An incoming null for a NOT NULL DEFAULT column coalesces to
			// the existing target value instead of overwriting it
			// (spec.md §4.8).
			setClauses[i] = fmt.Sprintf("%s = COALESCE(?, %s)", col, col)
		} else {
			setClauses[i] = fmt.Sprintf("%s = ?", col)
		}
		args = append(args, payload[col])
	}

	where, whereArgs := e.identityWhereClause(entity, op.OldFrom, op.OldUntil)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", e.schema.Table, strings.Join(setClauses, ", "), where)
	_, err := e.execContext(ctx, query, args...)
	return err
}

func (e *Executor) delete(ctx context.Context, entity model.EntityKey, op model.PlanOperation) error {
	where, args := e.identityWhereClause(entity, op.OldFrom, op.OldUntil)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", e.schema.Table, where)
	_, err := e.execContext(ctx, query, args...)
	return err
}

func (e *Executor) identityWhereClause(entity model.EntityKey, from, until time.Time) (string, []any) {
	var clauses []string
	var args []any
	for _, col := range e.schema.IdentityColumns {
		clauses = append(clauses, fmt.Sprintf("%s = ?", col))
		args = append(args, entity[col])
	}
	clauses = append(clauses, fmt.Sprintf("%s = ?", e.schema.ValidFromColumn), fmt.Sprintf("%s = ?", e.schema.ValidUntilColumn))
	args = append(args, from, until)
	return strings.Join(clauses, " AND "), args
}

func sortedKeys(p model.Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateSchema reports an invalid-config error if schema is missing a
// required field an Apply call would otherwise fail on half-way through a
// batch with constraints already deferred.
func ValidateSchema(schema Schema) error {
	if schema.Table == "" {
		return tmerrors.InvalidConfig("exec: table name is required", nil)
	}
	if schema.ValidFromColumn == "" || schema.ValidUntilColumn == "" {
		return tmerrors.InvalidConfig("exec: valid_from/valid_until columns are required", nil)
	}
	if len(schema.IdentityColumns) == 0 {
		return tmerrors.InvalidConfig("exec: at least one identity column is required", nil)
	}
	return nil
}
