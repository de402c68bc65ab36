package commands

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStatements(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queries.sql")
	data := `-- schema
CREATE TABLE users (id INTEGER);

SELECT *
  FROM users;
-- trailing comment
INSERT INTO users VALUES (1);
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	statements, err := readStatements(path)
	require.NoError(t, err)
	require.Len(t, statements, 3)
	assert.Equal(t, "CREATE TABLE users (id INTEGER)", statements[0])
	assert.Contains(t, statements[1], "FROM users")
	assert.Equal(t, "INSERT INTO users VALUES (1)", statements[2])

	_, err = readStatements(filepath.Join(t.TempDir(), "missing.sql"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a \n b \t c", 10))
	assert.Equal(t, "SELECT a...", truncate("SELECT a FROM t", 8))

	// Byte 9 splits the two-byte "ô"; the cut backs up to the rune start.
	out := truncate("SELECT côté FROM café", 9)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "SELECT c...", out)
}
