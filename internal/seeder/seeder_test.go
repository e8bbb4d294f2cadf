package seeder

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tokenrepo "github.com/Additional-Code/raffle/internal/repository/token"
	"github.com/Additional-Code/raffle/internal/testutil"
)

func TestGenerateCodes(t *testing.T) {
	codes, err := GenerateCodes(2500)
	require.NoError(t, err)
	require.Len(t, codes, 2500)

	seen := map[string]bool{}
	for _, code := range codes {
		assert.True(t, ValidCode(code), code)
		assert.False(t, seen[code], "duplicate %s", code)
		seen[code] = true
	}

	_, err = GenerateCodes(MaxCodes + 1)
	require.Error(t, err)
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("A123"))
	assert.True(t, ValidCode("Z000"))
	assert.False(t, ValidCode("a123"))
	assert.False(t, ValidCode("AB12"))
	assert.False(t, ValidCode("A1234"))
	assert.False(t, ValidCode(""))
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []string{"A001", "B002"}))
	assert.Equal(t, "Token\nA001\nB002\n", buf.String())

	codes, skipped, err := ReadCSV(strings.NewReader("Token\nA001\n\n b002\nnope\nA001\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A001", "B002"}, codes)
	assert.Equal(t, 2, skipped)
}

func TestSeedTokensFromFile(t *testing.T) {
	conns := testutil.NewTestDB(t)
	tokens := tokenrepo.NewRepository(conns)
	s := New(tokens, zap.NewNop())

	codes, err := GenerateCodes(1200)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tokens.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteCSV(f, codes))
	require.NoError(t, f.Close())

	added, err := s.TokensFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1200, added)

	added, err = s.TokensFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, added)

	count, err := tokens.CountAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1200, count)

	_, err = s.TokensFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}
