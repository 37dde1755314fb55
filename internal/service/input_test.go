package service

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePairsAcceptsAliases(t *testing.T) {
	pairs, skipped := NormalizePairs([]json.RawMessage{
		json.RawMessage(`{"source":"Accra","destination":"Kumasi"}`),
		json.RawMessage(`{"start":" Accra ","end":"Tema","client":"Kofi"}`),
		json.RawMessage(`{"origin":"Tema","to":"Ho","retailer":"Ama"}`),
		json.RawMessage(`{"sourceLocation":"A","destinationLocation":"B","customerName":"C"}`),
		json.RawMessage(`{"from":"Accra"}`),
		json.RawMessage(`{"source":"","destination":"Kumasi"}`),
		json.RawMessage(`42`),
	})

	want := []domain.RoutePair{
		{Source: "Accra", Destination: "Kumasi"},
		{Source: "Accra", Destination: "Tema", Customer: "Kofi"},
		{Source: "Tema", Destination: "Ho", Customer: "Ama"},
		{Source: "A", Destination: "B", Customer: "C"},
	}
	if diff := cmp.Diff(want, pairs); diff != "" {
		t.Fatalf("pairs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, skipped)
}

func TestGroupBySourceKeepsOrderAndCustomers(t *testing.T) {
	groups := GroupBySource([]domain.RoutePair{
		{Source: "Accra", Destination: "Kumasi", Customer: "Kofi"},
		{Source: "Tema", Destination: "Ho"},
		{Source: "Accra", Destination: "Tema"},
	})

	want := []domain.SourceGroup{
		{Source: "Accra", Destinations: []string{"Kumasi", "Tema"}, Customers: map[string]string{"Kumasi": "Kofi"}},
		{Source: "Tema", Destinations: []string{"Ho"}},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocationRequestFromTable(t *testing.T) {
	table := &ingest.Table{
		Headers: []string{"Source", "Capacity", "Destination", "Demand", "Customer Name"},
		Rows: []map[string]string{
			{"Source": "Accra", "Capacity": "100", "Destination": "Kumasi", "Demand": "40", "Customer Name": "Kofi"},
			{"Source": "", "Capacity": "", "Destination": "Tema", "Demand": "1,200", "Customer Name": ""},
			{"Source": "Takoradi", "Capacity": "n/a", "Destination": "", "Demand": "", "Customer Name": ""},
		},
	}

	request, err := AllocationRequestFromTable(table, "")
	require.NoError(t, err)
	assert.Equal(t, []domain.SourceSupply{{Street: "Accra", Capacity: 100}}, request.Sources)
	assert.Equal(t, []domain.DestinationDemand{
		{Street: "Kumasi", Demand: 40, Customer: "Kofi"},
		{Street: "Tema", Demand: 1200},
	}, request.Destinations)
}

func TestAllocationRequestFromTableMissingColumns(t *testing.T) {
	table := &ingest.Table{
		Headers: []string{"Source", "Destination"},
		Rows:    []map[string]string{{"Source": "A", "Destination": "B"}},
	}
	_, err := AllocationRequestFromTable(table, "")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "Capacity, Demand")
}

func TestRoutePairsFromTable(t *testing.T) {
	table := &ingest.Table{
		Headers: []string{"source", "DESTINATION", "Retailer"},
		Rows: []map[string]string{
			{"source": "Accra", "DESTINATION": "Kumasi", "Retailer": "Kofi"},
			{"source": "Accra", "DESTINATION": " ", "Retailer": ""},
		},
	}

	pairs, skipped, err := RoutePairsFromTable(table, "")
	require.NoError(t, err)
	assert.Equal(t, []domain.RoutePair{{Source: "Accra", Destination: "Kumasi", Customer: "Kofi"}}, pairs)
	assert.Equal(t, 1, skipped)

	_, _, err = RoutePairsFromTable(&ingest.Table{Headers: []string{"from", "to"}}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
