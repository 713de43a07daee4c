package tmconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	sess, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, model.ConflictPolicyLastWriteWins, sess.ConflictPolicy)
	require.False(t, sess.EphemeralChangesAreUpdates)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	sess, err := Load("")
	require.NoError(t, err)
	require.Equal(t, model.ConflictPolicyLastWriteWins, sess.ConflictPolicy)
}

func TestLoad_ParsesKnownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
tmerge:
  conflict_policy: FIRST_WRITE_WINS
  ephemeral_changes_are_updates: true
  ephemeral_columns:
    - sync_token
    - last_seen
  log_plan: true
  log_trace: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	sess, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, model.ConflictPolicyFirstWriteWins, sess.ConflictPolicy)
	require.True(t, sess.EphemeralChangesAreUpdates)
	require.True(t, sess.LogPlan)
	require.True(t, sess.LogTrace)
	require.False(t, sess.LogSQL)
	require.Equal(t, map[string]bool{"sync_token": true, "last_seen": true}, sess.EphemeralSet())
}

func TestLoad_RejectsUnknownConflictPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tmerge:\n  conflict_policy: BOGUS\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEphemeralSet_EmptyIsNil(t *testing.T) {
	sess := defaultSession()
	require.Nil(t, sess.EphemeralSet())
}
