package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadTableCSV(t *testing.T) {
	input := "Source , Destination,Capacity,Demand\n" +
		"Accra,Kumasi,10,4\n" +
		",,,\n" +
		"Accra, Tema ,10,2\n"

	table, err := ReadTable("batch.CSV", strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"Source", "Destination", "Capacity", "Demand"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Tema", table.Rows[1]["Destination"])
}

func TestReadTableXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"Source", "Destination", "Customer"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"Accra", "Kumasi", "Acme"}))

	var buf bytes.Buffer
	_, err := book.WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, book.Close())

	table, err := ReadTable("routes.xlsx", &buf)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, map[string]string{
		"Source":      "Accra",
		"Destination": "Kumasi",
		"Customer":    "Acme",
	}, table.Rows[0])
}

func TestReadTableRejectsUnknownFormat(t *testing.T) {
	_, err := ReadTable("routes.pdf", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadTableEmpty(t *testing.T) {
	_, err := ReadTable("empty.csv", strings.NewReader("Source,Destination\n"))
	require.ErrorIs(t, err, ErrEmptyTable)
}

func TestFindColumnKey(t *testing.T) {
	headers := []string{" SOURCE ", "Dest_ination", "Capacity (t)"}

	key, ok := FindColumnKey(headers, "source")
	require.True(t, ok)
	assert.Equal(t, " SOURCE ", key)

	key, ok = FindColumnKey(headers, "Destination")
	require.True(t, ok)
	assert.Equal(t, "Dest_ination", key)

	key, ok = FindColumnKey(headers, "capacity")
	require.True(t, ok)
	assert.Equal(t, "Capacity (t)", key)

	assert.Equal(t, []string{"Demand"}, MissingColumns(headers, "Source", "Demand"))
}
