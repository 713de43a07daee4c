// Package tmconfig holds the engine's session tuning knobs: the
// conflict-resolution/ephemeral-handling settings from SPEC_FULL.md §4's
// Open Question resolutions, plus the verbosity knobs that control what the
// engine logs and traces for one merge run. Tuning knobs are read from
// config.yaml the same way beads splits its "startup settings" from its
// database-backed settings (internal/config/yaml_config.go) — these values
// must be known before a merge starts, so they never live in the target
// database itself.
package tmconfig

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/temporalmerge/tmerge/internal/tm/model"
	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

// Session holds one merge run's tuning knobs (spec.md §9 Open Questions,
// resolved in SPEC_FULL.md §4).
type Session struct {
	// ConflictPolicy breaks ties between source rows whose intervals
	// overlap the same atomic segment.
	ConflictPolicy model.ConflictPolicy

	// EphemeralChangesAreUpdates, when true, makes a change to only an
	// ephemeral column (with the non-ephemeral payload unchanged) surface
	// as an UPDATE instead of SKIP_IDENTICAL.
	EphemeralChangesAreUpdates bool

	// EphemeralColumns names the columns excluded from coalescing/identity
	// comparisons.
	EphemeralColumns []string

	// LogPlan holds the log_plan knob. Load reads it; no package in this
	// module consults it, so it produces no log output.
	LogPlan bool
	// LogFeedback holds the log_feedback knob. Load reads it; no package in
	// this module consults it, so it produces no log output.
	LogFeedback bool
	// LogSQL holds the log_sql knob. Load reads it; no package in this
	// module consults it, so it produces no log output.
	LogSQL bool
	// LogTrace attaches a model.TraceInfo to every plan operation
	// (SPEC_FULL.md §5, "structural plan tracing").
	LogTrace bool
	// LogIndexChecks holds the log_index_checks knob. Load reads it; no
	// package in this module consults it, so C1's index-presence hints are
	// not logged.
	LogIndexChecks bool
	// LogIDSeed holds the log_id_seed knob. Load reads it; no package in
	// this module consults it, so it produces no log output.
	LogIDSeed bool
}

// defaultSession is applied before any config.yaml or env override.
func defaultSession() Session {
	return Session{
		ConflictPolicy: model.ConflictPolicyLastWriteWins,
	}
}

// Load reads a Session from the config.yaml at path, falling back to
// defaults for any unset key (spec.md's Open Questions default to the
// behavior most merge tools already assume: last-write-wins, ephemeral
// changes don't surface as updates). A missing file is not an error —
// callers running with library defaults never need a config.yaml.
func Load(path string) (Session, error) {
	sess := defaultSession()

	if path == "" {
		return sess, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return sess, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Session{}, tmerrors.InvalidConfig(fmt.Sprintf("reading %s", path), err)
	}

	if s := v.GetString("tmerge.conflict_policy"); s != "" {
		switch model.ConflictPolicy(s) {
		case model.ConflictPolicyLastWriteWins, model.ConflictPolicyFirstWriteWins:
			sess.ConflictPolicy = model.ConflictPolicy(s)
		default:
			return Session{}, tmerrors.InvalidConfig(fmt.Sprintf("tmerge.conflict_policy: unknown value %q", s), nil)
		}
	}

	sess.EphemeralChangesAreUpdates = v.GetBool("tmerge.ephemeral_changes_are_updates")
	sess.EphemeralColumns = v.GetStringSlice("tmerge.ephemeral_columns")
	sess.LogPlan = v.GetBool("tmerge.log_plan")
	sess.LogFeedback = v.GetBool("tmerge.log_feedback")
	sess.LogSQL = v.GetBool("tmerge.log_sql")
	sess.LogTrace = v.GetBool("tmerge.log_trace")
	sess.LogIndexChecks = v.GetBool("tmerge.log_index_checks")
	sess.LogIDSeed = v.GetBool("tmerge.log_id_seed")

	return sess, nil
}

// EphemeralSet returns EphemeralColumns as a lookup set, the shape every
// C2-C6 stage expects (model.Payload.EqualIgnoring, coalesce.Coalesce).
func (s Session) EphemeralSet() map[string]bool {
	if len(s.EphemeralColumns) == 0 {
		return nil
	}
	set := make(map[string]bool, len(s.EphemeralColumns))
	for _, c := range s.EphemeralColumns {
		set[c] = true
	}
	return set
}
