package excel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceal/generalized-method-of-moments/domain/core"
	"github.com/priceal/generalized-method-of-moments/internal/testkit"
)

func TestReadSampleExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "times.xlsx")
	want := []float64{1.5, 2.25, 10, 0.125}
	require.NoError(t, WriteSample(path, "dwell", want))

	got, err := NewDataReader(path).ReadSample("dwell")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	first, err := NewDataReader(path).ReadSample("")
	require.NoError(t, err)
	assert.Equal(t, want, first)

	_, err = NewDataReader(path).WithSheet("Missing").ReadSample("")
	assert.Error(t, err)
}

func TestReadSampleCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "times.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,Dwell\n1,3.5\n2,\n3,4e1\n4\n"), 0o644))

	got, err := NewDataReader(path).ReadSample("dwell")
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 40}, got, "blank and short rows are skipped")

	generated, err := testkit.WriteCSV(dir, "gen.csv", "t", []float64{0.5, 7})
	require.NoError(t, err)
	got, err = NewDataReader(generated).ReadSample("T")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 7}, got)
}

func TestReadSampleErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewDataReader(filepath.Join(dir, "absent.csv")).ReadSample("")
	assert.Error(t, err)

	headerOnly := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(headerOnly, []byte("dwell\n"), 0o644))
	_, err = NewDataReader(headerOnly).ReadSample("")
	assert.True(t, errors.Is(err, core.ErrInsufficientData))

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("dwell\n1\nabc\n"), 0o644))
	_, err = NewDataReader(bad).ReadSample("dwell")
	assert.True(t, errors.Is(err, core.ErrInvalidSample))

	_, err = NewDataReader(bad).ReadSample("other")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}
