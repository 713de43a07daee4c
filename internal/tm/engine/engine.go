// Package engine wires the whole temporal merge pipeline together: for each
// entity touched by a batch, it classifies intervals (C2), deconstructs them
// into atomic segments (C3), resolves payloads (C4), coalesces islands
// (C5), diffs against the target (C6) — consulting and populating the plan
// cache (C7) around that inner loop — then applies the combined plan (C8)
// and reports per-row feedback (C9). This mirrors DoltStore's role in
// internal/storage/dolt/store.go: one struct-of-collaborators composition
// root that every CLI command goes through.
package engine

import (
	"context"
	"sort"

	"github.com/temporalmerge/tmerge/internal/tm/coalesce"
	"github.com/temporalmerge/tmerge/internal/tm/diff"
	"github.com/temporalmerge/tmerge/internal/tm/exec"
	"github.com/temporalmerge/tmerge/internal/tm/feedback"
	"github.com/temporalmerge/tmerge/internal/tm/model"
	"github.com/temporalmerge/tmerge/internal/tm/plancache"
	"github.com/temporalmerge/tmerge/internal/tm/resolve"
	"github.com/temporalmerge/tmerge/internal/tm/segment"
	"github.com/temporalmerge/tmerge/internal/tmconfig"
)

// Batch is one merge call's full input: every source row to reconcile and
// every target row currently on record for the entities they touch
// (spec.md §4's CORE SPEC operations).
type Batch struct {
	Mode       model.Mode
	DeleteMode model.DeleteMode
	PKColumns  []string

	Sources []model.SourceRow
	Targets []model.TargetRow
}

// Plan is the result of Compile: the ordered operation list plus enough
// bookkeeping for Apply to run it without recomputing entity grouping.
type Plan struct {
	Operations []model.PlanOperation
	entities   []exec.EntityPlan
}

// Engine is the composition root: a plan cache plus the tuning knobs that
// shape resolution (conflict policy, ephemeral columns).
type Engine struct {
	Cache  *plancache.Cache
	Config tmconfig.Session
}

// New returns an Engine. A nil cache is replaced with a fresh, empty one.
func New(cache *plancache.Cache, cfg tmconfig.Session) *Engine {
	if cache == nil {
		cache = plancache.New()
	}
	return &Engine{Cache: cache, Config: cfg}
}

// Compile runs C1 (already resolved by the caller into Batch.PKColumns et
// al.) through C7 and returns a fully ordered, batch-wide Plan. It never
// touches the database: callers that only want a dry-run plan (the CLI's
// "plan" subcommand, SPEC_FULL.md §2) can stop here.
func (e *Engine) Compile(ctx context.Context, b Batch) Plan {
	entities := groupEntities(b.Sources, b.Targets)

	var allOps []model.PlanOperation
	var entityPlans []exec.EntityPlan

	for _, ent := range entities {
		key := plancache.Key{
			Entity:         ent.key,
			Mode:           b.Mode,
			DeleteMode:     b.DeleteMode,
			ConflictPolicy: e.Config.ConflictPolicy,
			Sources:        ent.sources,
			Targets:        ent.targets,
		}

		ops, hit := e.Cache.Get(ctx, key)
		if !hit {
			ops = e.compileEntity(ent, b)
			e.Cache.Put(ops, key)
		}

		allOps = append(allOps, ops...)
		entityPlans = append(entityPlans, exec.EntityPlan{
			Entity:            ent.key,
			HasExistingTarget: len(ent.targets) > 0,
			Ops:               ops,
		})
	}

	diff.Reseq(allOps, func(k model.EntityKey) string { return k.Repr() })

	// Reseq reorders in place but entityPlans' Ops slices alias the
	// pre-reseq backing array; rebuild each entity's Ops view from allOps so
	// Apply sees the final Seq values.
	byEntity := make(map[string][]model.PlanOperation, len(entityPlans))
	for _, op := range allOps {
		r := op.Entity.Repr()
		byEntity[r] = append(byEntity[r], op)
	}
	for i := range entityPlans {
		entityPlans[i].Ops = byEntity[entityPlans[i].Entity.Repr()]
	}

	return Plan{Operations: allOps, entities: entityPlans}
}

// compileEntity runs C2-C6 for one entity: classify+deconstruct, resolve
// payloads, coalesce into islands, diff against the target, and
// re-introduce any source row the mode predicate filtered out before it
// ever became a segment-level op.
func (e *Engine) compileEntity(ent entityGroup, b Batch) []model.PlanOperation {
	segs := segment.Deconstruct(segment.Input{
		Entity:  ent.key,
		Sources: ent.sources,
		Targets: ent.targets,
		Policy:  e.Config.ConflictPolicy,
	})

	resolved := resolve.Resolve(segs, resolve.Options{
		Mode:            b.Mode,
		DeleteMode:      b.DeleteMode,
		EntityHasSource: len(ent.sources) > 0,
		PKColumns:       b.PKColumns,
	})

	// INSERT_NEW_ENTITIES only founds entities absent from the target. For an
	// entity that already has target rows, every segment is filtered,
	// including any stretch where a source row reaches past the target's own
	// rows, so each of its source rows comes out as SKIP_FILTERED below.
	if b.Mode == model.ModeInsertNewEntities && len(ent.targets) > 0 {
		for i := range resolved {
			resolved[i].Deleted = true
			resolved[i].SkipReason = model.OpSkipFiltered
		}
	}

	islands := coalesce.Coalesce(resolved, e.Config.EphemeralSet())

	// Such an entity must come out of this pass completely untouched, not as
	// a DELETE of its now-filtered-empty islands, so diff does not see its
	// target rows. Its source rows still get re-introduced as SKIP_FILTERED
	// below.
	diffTargets := ent.targets
	if b.Mode == model.ModeInsertNewEntities && len(ent.targets) > 0 {
		diffTargets = nil
	}

	ops := diff.Diff(diff.Input{
		Entity:                     ent.key,
		EntityRepr:                 ent.key.Repr(),
		Islands:                    islands,
		Targets:                    diffTargets,
		Ephemeral:                  e.Config.EphemeralSet(),
		EphemeralChangesAreUpdates: e.Config.EphemeralChangesAreUpdates,
		Trace:                      e.Config.LogTrace,
	})

	used := make(map[int64]bool)
	for _, op := range ops {
		for _, id := range op.SourceRowIDs {
			used[id] = true
		}
	}
	for _, seg := range resolved {
		if !seg.Deleted || seg.SourceRowID == nil || used[*seg.SourceRowID] {
			continue
		}
		reason := seg.SkipReason
		if reason == "" {
			reason = model.OpSkipEclipsed
		}
		op := model.PlanOperation{
			Entity:       ent.key,
			Op:           reason,
			Effect:       model.EffectBottom,
			SourceRowIDs: []int64{*seg.SourceRowID},
		}
		if e.Config.LogTrace {
			op.Trace = &model.TraceInfo{Stage: "engine", Reason: "source row filtered out before reaching a segment-level op"}
		}
		ops = append(ops, op)
		used[*seg.SourceRowID] = true
	}

	return ops
}

// Apply runs Compile's plan against db via an exec.Executor.
func (e *Engine) Apply(ctx context.Context, ex *exec.Executor, plan Plan) (exec.Result, error) {
	return ex.Apply(ctx, plan.entities)
}

// Feedback reports one outcome per source row in b (spec.md §4.9).
func (e *Engine) Feedback(b Batch, plan Plan) []model.FeedbackRow {
	return feedback.Build(b.Sources, plan.Operations)
}

type entityGroup struct {
	key     model.EntityKey
	sources []model.SourceRow
	targets []model.TargetRow
}

// groupEntities partitions sources/targets by identity projection and
// returns them in a deterministic (sorted by Repr) order, since a batch's
// compiled plan must not depend on slice iteration order.
func groupEntities(sources []model.SourceRow, targets []model.TargetRow) []entityGroup {
	byRepr := make(map[string]*entityGroup)
	var order []string

	get := func(k model.EntityKey) *entityGroup {
		r := k.Repr()
		g, ok := byRepr[r]
		if !ok {
			g = &entityGroup{key: k}
			byRepr[r] = g
			order = append(order, r)
		}
		return g
	}

	for _, s := range sources {
		g := get(sourceGroupKey(s))
		g.sources = append(g.sources, s)
	}
	for _, t := range targets {
		g := get(t.Identity)
		g.targets = append(g.targets, t)
	}

	sort.Strings(order)
	groups := make([]entityGroup, len(order))
	for i, r := range order {
		groups[i] = *byRepr[r]
	}
	return groups
}

// sourceGroupKey returns the key a source row groups under. A row whose
// Identity is empty hasn't been matched to an existing entity by natural
// key — it's part of a founding insert, so it groups by CorrelationID
// instead (rows sharing a correlation id become one new entity that will
// share a single generated surrogate key, spec.md §4.8's "back-fill").
func sourceGroupKey(s model.SourceRow) model.EntityKey {
	if len(s.Identity) > 0 {
		return s.Identity
	}
	return model.EntityKey{"__corr": s.CorrelationID}
}
