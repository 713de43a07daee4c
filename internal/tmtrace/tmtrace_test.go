package tmtrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_NoneExporterIsNoop(t *testing.T) {
	shutdown, err := Init(Options{Exporter: ExporterNone})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_DefaultsToNoExporter(t *testing.T) {
	shutdown, err := Init(Options{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_Stdout(t *testing.T) {
	shutdown, err := Init(Options{Exporter: ExporterStdout, ServiceName: "tmerge-test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
