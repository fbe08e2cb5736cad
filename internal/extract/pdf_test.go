package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestPDFExtractsAllPages(t *testing.T) {
	text, err := PDF(readFixture(t, "notes.pdf"), MaxPDFPages)
	require.NoError(t, err)
	require.Contains(t, text, "Photosynthesis converts light")
	require.Contains(t, text, "into chemical energy")
	require.Less(t, strings.Index(text, "Photosynthesis"), strings.Index(text, "chemical"))
}

func TestPDFStopsAtPageCap(t *testing.T) {
	text, err := PDF(readFixture(t, "long.pdf"), MaxPDFPages)
	require.NoError(t, err)
	require.Contains(t, text, "marker01")
	require.Contains(t, text, "marker10")
	require.NotContains(t, text, "marker11")

	text, err = PDF(readFixture(t, "long.pdf"), 2)
	require.NoError(t, err)
	require.Contains(t, text, "marker02")
	require.NotContains(t, text, "marker03")
}

func TestPDFRejectsBadInput(t *testing.T) {
	_, err := PDF(nil, MaxPDFPages)
	require.ErrorIs(t, err, ErrEmptyDocument)

	_, err = PDF([]byte(strings.Repeat("not a pdf ", 40)), MaxPDFPages)
	require.Error(t, err)

	// Truncated downloads lose the cross-reference table.
	data := readFixture(t, "notes.pdf")
	_, err = PDF(data[:len(data)/2], MaxPDFPages)
	require.Error(t, err)
}
