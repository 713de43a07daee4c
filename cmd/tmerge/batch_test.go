package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temporalmerge/tmerge/internal/tm/model"
	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

func writeBatchFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBatch_DecodesSourcesAndTargets(t *testing.T) {
	path := writeBatchFile(t, `{
		"mode": "MERGE_ENTITY_UPSERT",
		"pk_columns": ["account_id"],
		"sources": [
			{"row_id": 1, "identity": {"account_id": 7}, "from": "2024-01-01T00:00:00Z", "until": "2024-02-01T00:00:00Z", "data": {"status": "a"}}
		],
		"targets": [
			{"identity": {"account_id": 7}, "from": "2024-01-01T00:00:00Z", "until": "2024-03-01T00:00:00Z", "data": {"status": "orig"}}
		]
	}`)

	b, err := loadBatch(path)
	require.NoError(t, err)
	require.Equal(t, model.ModeMergeEntityUpsert, b.Mode)
	require.Equal(t, []string{"account_id"}, b.PKColumns)
	require.Len(t, b.Sources, 1)
	require.Equal(t, int64(1), b.Sources[0].RowID)
	require.Len(t, b.Targets, 1)
}

func TestLoadBatch_MissingModeIsInvalidConfig(t *testing.T) {
	path := writeBatchFile(t, `{"sources": []}`)
	_, err := loadBatch(path)
	require.Error(t, err)
	require.True(t, tmerrors.IsInvalidConfig(err))
}

func TestLoadBatch_MissingFileErrors(t *testing.T) {
	_, err := loadBatch(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestOpenDriver_UnknownDriverIsInvalidConfig(t *testing.T) {
	_, _, _, _, _, err := openDriver(context.Background(), "postgres", "whatever")
	require.Error(t, err)
	require.True(t, tmerrors.IsInvalidConfig(err))
}
