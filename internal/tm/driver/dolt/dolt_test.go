package dolt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDSN_ServerModeBuildsMySQLDSN(t *testing.T) {
	driver, d, err := dsn(Config{
		ServerHost: "localhost", ServerPort: 3306,
		ServerUser: "root", Database: "tmerge",
	})
	require.NoError(t, err)
	require.Equal(t, "mysql", driver)
	require.Equal(t, "root@tcp(localhost:3306)/tmerge?parseTime=true", d)
}

func TestDSN_ServerModeWithPasswordAndTLS(t *testing.T) {
	_, d, err := dsn(Config{
		ServerHost: "db.internal", ServerPort: 3306,
		ServerUser: "tm", ServerPassword: "secret", ServerTLS: true, Database: "tmerge",
	})
	require.NoError(t, err)
	require.Contains(t, d, "tm:secret@tcp(db.internal:3306)/tmerge")
	require.Contains(t, d, "tls=true")
}

func TestDSN_EmbeddedModeRequiresPath(t *testing.T) {
	_, _, err := dsn(Config{Embedded: true})
	require.Error(t, err)
}

func TestDSN_EmbeddedModeBuildsFileURL(t *testing.T) {
	driver, d, err := dsn(Config{Embedded: true, Path: "/var/tmerge/data"})
	require.NoError(t, err)
	require.Equal(t, "dolt", driver)
	require.Contains(t, d, "file:///var/tmerge/data")
}

func TestDSN_RejectsUnsafeDatabaseName(t *testing.T) {
	_, _, err := dsn(Config{ServerHost: "h", Database: "tmerge; DROP TABLE x"})
	require.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	require.False(t, isRetryableError(nil))
	require.True(t, isRetryableError(errString("dial tcp: connection refused")))
	require.True(t, isRetryableError(errString("Unknown database 'tmerge'")))
	require.False(t, isRetryableError(errString("Access denied for user")))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestHasPrefix(t *testing.T) {
	require.True(t, hasPrefix([]string{"tenant_id", "valid_from", "status"}, []string{"tenant_id", "valid_from"}))
	require.False(t, hasPrefix([]string{"status", "tenant_id"}, []string{"tenant_id", "valid_from"}))
	require.False(t, hasPrefix([]string{"tenant_id"}, []string{"tenant_id", "valid_from"}))
}

func TestSplitCSV(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitCSV("a, b"))
	require.Nil(t, splitCSV("  "))
}
