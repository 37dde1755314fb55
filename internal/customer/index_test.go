package customer

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func raws(t *testing.T, items ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		require.True(t, json.Valid([]byte(item)), item)
		out = append(out, json.RawMessage(item))
	}
	return out
}

func TestKeys(t *testing.T) {
	got := Keys("  Main St. 12 ")
	want := [3]string{"main st. 12", "mainst.12", "mainst12"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupToleratesFormattingNoise(t *testing.T) {
	index := NewIndex(raws(t, `{"dest_street":"Main St.","customer":"Acme"}`), zaptest.NewLogger(t))

	for _, query := range []string{"  main st  ", "MAIN ST.", "mainst", "Main-St"} {
		match, ok := index.Lookup(query)
		require.True(t, ok, query)
		assert.Equal(t, "Acme", match.Customer)
	}

	_, ok := index.Lookup("Elm Road")
	assert.False(t, ok)
}

func TestIndexAcceptsFieldAliases(t *testing.T) {
	index := NewIndex(raws(t,
		`{"Destination":"Tema","CUSTOMER":"Kofi Traders","customerData":{"tier":"gold"}}`,
		`{"street":"Osu","customerName":"Ama"}`,
		`{"destStreet":"Legon"}`,
		`not-json`,
	), nil)

	assert.Equal(t, 2, index.Len())

	match, ok := index.Lookup("tema")
	require.True(t, ok)
	assert.Equal(t, "Kofi Traders", match.Customer)
	assert.JSONEq(t, `{"tier":"gold"}`, string(match.Metadata))

	match, ok = index.Lookup("OSU")
	require.True(t, ok)
	assert.Equal(t, "Ama", match.Customer)
	assert.Nil(t, match.Metadata)
}

func TestMergeAnnotatesMatchesAndKeepsUnknownFields(t *testing.T) {
	index := NewIndex(raws(t, `{"dest_street":"Kumasi","customer":"Acme","metadata":{"phone":"123"}}`), nil)

	merged := index.Merge(raws(t,
		`{"source":"Accra","destination":"Kumasi","quantity":5,"cost":17}`,
		`{"source":"Accra","destination":"Tema","quantity":3}`,
	))
	require.Len(t, merged, 2)

	assert.JSONEq(t,
		`{"source":"Accra","destination":"Kumasi","quantity":5,"cost":17,
		  "destination_customer":"Acme","customer_metadata":{"phone":"123"}}`,
		string(merged[0]))
	assert.JSONEq(t, `{"source":"Accra","destination":"Tema","quantity":3}`, string(merged[1]))

	records := CustomerRecords(merged)
	require.Len(t, records, 1)
	assert.Equal(t, domain.CustomerRecord{
		Destination: "Kumasi",
		Customer:    "Acme",
		Metadata:    json.RawMessage(`{"phone":"123"}`),
	}, records[0])
}

func TestMergeSkipsAlreadyEnrichedAllocations(t *testing.T) {
	index := NewIndex(raws(t, `{"dest_street":"Kumasi","customer":"Acme"}`), nil)

	input := raws(t,
		`{"destination":"Kumasi","destination_customer":"Existing"}`,
		`{"destination":"Kumasi"}`,
	)
	merged := index.Merge(input)
	assert.Equal(t, input, merged)
}

func TestMergeWithoutCustomersReturnsInput(t *testing.T) {
	index := NewIndex(nil, nil)
	input := raws(t, `{"destination":"Kumasi"}`)
	assert.Equal(t, input, index.Merge(input))
}

func TestAnnotateRouteByEnd(t *testing.T) {
	index := NewIndexFromDemands([]domain.DestinationDemand{
		{Street: "Kumasi", Demand: 4, Customer: "Acme"},
		{Street: "Tema", Demand: 2},
	}, nil)

	annotated, ok := index.Annotate(json.RawMessage(`{"start":"Accra","end":"Kumasi"}`), "end", "destination")
	require.True(t, ok)
	assert.JSONEq(t, `{"start":"Accra","end":"Kumasi","destination_customer":"Acme"}`, string(annotated))

	_, ok = index.Annotate(json.RawMessage(`{"start":"Accra","end":"Tema"}`), "end", "destination")
	assert.False(t, ok)
}

func TestCustomerColumns(t *testing.T) {
	assert.True(t, IsCustomerColumn(" Customer "))
	assert.True(t, IsCustomerColumn("Retailer Name"))
	assert.False(t, IsCustomerColumn("Demand"))

	column, ok := FindCustomerColumn([]string{"Source", "Destination", "Client ID"})
	require.True(t, ok)
	assert.Equal(t, "Client ID", column)

	_, ok = FindCustomerColumn([]string{"Source"})
	assert.False(t, ok)
}
