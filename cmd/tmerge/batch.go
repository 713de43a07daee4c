package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/temporalmerge/tmerge/internal/tm/engine"
	"github.com/temporalmerge/tmerge/internal/tm/model"
	"github.com/temporalmerge/tmerge/internal/tmerrors"
)

// batchFile is the on-disk JSON shape a caller hands tmerge: the batch's
// mode/delete_mode plus every source row and the target rows it touches.
// Extraction of those rows from the live target table (spec.md §3's
// "source contract": "any relation exposing...") is the caller's job, not
// this CLI's — consistent with C1/C8 being the only components that ever
// touch a live connection.
type batchFile struct {
	Mode       model.Mode       `json:"mode"`
	DeleteMode model.DeleteMode `json:"delete_mode,omitempty"`
	PKColumns  []string         `json:"pk_columns"`
	Sources    []sourceRowDTO   `json:"sources"`
	Targets    []targetRowDTO   `json:"targets,omitempty"`
}

type sourceRowDTO struct {
	RowID         int64          `json:"row_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Identity      model.EntityKey `json:"identity,omitempty"`
	From          time.Time      `json:"from"`
	Until         time.Time      `json:"until"`
	Data          model.Payload  `json:"data,omitempty"`
	Ephemeral     model.Payload  `json:"ephemeral,omitempty"`
}

type targetRowDTO struct {
	Identity  model.EntityKey `json:"identity"`
	From      time.Time       `json:"from"`
	Until     time.Time       `json:"until"`
	Data      model.Payload   `json:"data,omitempty"`
	Ephemeral model.Payload   `json:"ephemeral,omitempty"`
}

func loadBatch(path string) (engine.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.Batch{}, tmerrors.Wrap("tmerge: open batch file", err)
	}
	defer func() { _ = f.Close() }()

	var bf batchFile
	if err := json.NewDecoder(f).Decode(&bf); err != nil {
		return engine.Batch{}, tmerrors.Wrap("tmerge: decode batch file", err)
	}
	if bf.Mode == "" {
		return engine.Batch{}, tmerrors.InvalidConfig("tmerge: batch file: \"mode\" is required", nil)
	}

	b := engine.Batch{
		Mode:       bf.Mode,
		DeleteMode: bf.DeleteMode,
		PKColumns:  bf.PKColumns,
	}
	for _, s := range bf.Sources {
		b.Sources = append(b.Sources, model.SourceRow{
			RowID:         s.RowID,
			CorrelationID: s.CorrelationID,
			Identity:      s.Identity,
			From:          s.From,
			Until:         s.Until,
			Data:          s.Data,
			Ephemeral:     s.Ephemeral,
		})
	}
	for _, t := range bf.Targets {
		b.Targets = append(b.Targets, model.TargetRow{
			Identity:  t.Identity,
			From:      t.From,
			Until:     t.Until,
			Data:      t.Data,
			Ephemeral: t.Ephemeral,
		})
	}
	return b, nil
}

func printJSONOrTable(v any, table func()) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return
	}
	table()
}
