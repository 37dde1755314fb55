package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/iago/fleetops-back/internal/customer"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/ingest"
)

var ErrInvalidInput = errors.New("invalid input")

var (
	sourceAliases      = []string{"source", "start", "origin", "from", "sourceLocation"}
	destinationAliases = []string{"destination", "end", "to", "destinationLocation"}
	customerAliases    = []string{"customer", "client", "retailer", "customerName", "name"}
)

// AllocationRequest is one synchronous allocation batch.
type AllocationRequest struct {
	Sources      []domain.SourceSupply      `json:"sources"`
	Destinations []domain.DestinationDemand `json:"destinations"`
}

func (r AllocationRequest) Validate() error {
	if len(r.Sources) == 0 || len(r.Destinations) == 0 {
		return fmt.Errorf("%w: both sources and destinations are required for optimization", ErrInvalidInput)
	}
	for i, source := range r.Sources {
		if strings.TrimSpace(source.Street) == "" {
			return fmt.Errorf("%w: sources[%d] has no street", ErrInvalidInput, i)
		}
	}
	for i, destination := range r.Destinations {
		if strings.TrimSpace(destination.Street) == "" {
			return fmt.Errorf("%w: destinations[%d] has no street", ErrInvalidInput, i)
		}
	}
	return nil
}

// RouteRequest is a route-finding submission. Entries are free-form objects
// whose field names are normalized through the alias lists above; Pairs, when
// set, are already canonical (spreadsheet uploads).
type RouteRequest struct {
	Entries         []json.RawMessage
	Pairs           []domain.RoutePair
	// Skipped counts rows already dropped while building Pairs.
	Skipped         int
	AllocationJobID string
	// Destinations is optional customer side data used to annotate routes.
	Destinations    []json.RawMessage
}

// AllocationRequestFromTable builds an allocation batch from a spreadsheet
// with Source, Destination, Capacity and Demand columns. customerColumn may
// be empty, in which case a customer-like header is detected.
func AllocationRequestFromTable(table *ingest.Table, customerColumn string) (AllocationRequest, error) {
	if missing := ingest.MissingColumns(table.Headers, "Source", "Destination", "Capacity", "Demand"); len(missing) > 0 {
		return AllocationRequest{}, fmt.Errorf("%w: missing required columns: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	sourceKey, _ := ingest.FindColumnKey(table.Headers, "source")
	destinationKey, _ := ingest.FindColumnKey(table.Headers, "destination")
	capacityKey, _ := ingest.FindColumnKey(table.Headers, "capacity")
	demandKey, _ := ingest.FindColumnKey(table.Headers, "demand")
	customerKey := resolveCustomerColumn(table.Headers, customerColumn)

	var request AllocationRequest
	for _, row := range table.Rows {
		if street := strings.TrimSpace(row[sourceKey]); street != "" {
			if capacity, ok := parseQuantity(row[capacityKey]); ok {
				request.Sources = append(request.Sources, domain.SourceSupply{Street: street, Capacity: capacity})
			}
		}
		if street := strings.TrimSpace(row[destinationKey]); street != "" {
			if demand, ok := parseQuantity(row[demandKey]); ok {
				demandRow := domain.DestinationDemand{Street: street, Demand: demand}
				if customerKey != "" {
					demandRow.Customer = strings.TrimSpace(row[customerKey])
				}
				request.Destinations = append(request.Destinations, demandRow)
			}
		}
	}
	return request, request.Validate()
}

// RoutePairsFromTable reads Source/Destination (and an optional customer
// column) from a spreadsheet. Rows missing either street are counted as
// skipped.
func RoutePairsFromTable(table *ingest.Table, customerColumn string) ([]domain.RoutePair, int, error) {
	sourceKey, ok := ingest.FindColumnKey(table.Headers, "source")
	if !ok {
		return nil, 0, fmt.Errorf("%w: file must contain 'Source' and 'Destination' columns", ErrInvalidInput)
	}
	destinationKey, ok := ingest.FindColumnKey(table.Headers, "destination")
	if !ok {
		return nil, 0, fmt.Errorf("%w: file must contain 'Source' and 'Destination' columns", ErrInvalidInput)
	}
	customerKey := resolveCustomerColumn(table.Headers, customerColumn)

	pairs := make([]domain.RoutePair, 0, len(table.Rows))
	skipped := 0
	for _, row := range table.Rows {
		pair := domain.RoutePair{
			Source:      strings.TrimSpace(row[sourceKey]),
			Destination: strings.TrimSpace(row[destinationKey]),
		}
		if pair.Source == "" || pair.Destination == "" {
			skipped++
			continue
		}
		if customerKey != "" {
			pair.Customer = strings.TrimSpace(row[customerKey])
		}
		pairs = append(pairs, pair)
	}
	return pairs, skipped, nil
}

// NormalizePairs maps free-form route entries onto RoutePair. Entries that
// are not objects or lack a source or destination are skipped and counted.
func NormalizePairs(entries []json.RawMessage) ([]domain.RoutePair, int) {
	pairs := make([]domain.RoutePair, 0, len(entries))
	skipped := 0
	for _, raw := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			skipped++
			continue
		}
		pair := domain.RoutePair{
			Source:      aliasValue(fields, sourceAliases),
			Destination: aliasValue(fields, destinationAliases),
			Customer:    aliasValue(fields, customerAliases),
		}
		if pair.Source == "" || pair.Destination == "" {
			skipped++
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, skipped
}

// GroupBySource folds pairs into one group per source, keeping first-seen
// order of sources and destinations.
func GroupBySource(pairs []domain.RoutePair) []domain.SourceGroup {
	groups := make([]domain.SourceGroup, 0)
	position := make(map[string]int)
	for _, pair := range pairs {
		index, ok := position[pair.Source]
		if !ok {
			index = len(groups)
			position[pair.Source] = index
			groups = append(groups, domain.SourceGroup{Source: pair.Source})
		}
		group := &groups[index]
		group.Destinations = append(group.Destinations, pair.Destination)
		if pair.Customer != "" {
			if group.Customers == nil {
				group.Customers = make(map[string]string)
			}
			group.Customers[pair.Destination] = pair.Customer
		}
	}
	return groups
}

func resolveCustomerColumn(headers []string, requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		if key, ok := ingest.FindColumnKey(headers, requested); ok {
			return key
		}
	}
	if key, ok := customer.FindCustomerColumn(headers); ok {
		return key
	}
	return ""
}

func aliasValue(fields map[string]json.RawMessage, aliases []string) string {
	for _, alias := range aliases {
		raw, ok := fields[alias]
		if !ok {
			continue
		}
		if value := rawScalar(raw); value != "" {
			return value
		}
	}
	return ""
}

// rawScalar renders a JSON string or number as trimmed text.
func rawScalar(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func parseQuantity(value string) (float64, bool) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if value == "" {
		return 0, false
	}
	quantity, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return quantity, true
}
