// Package customer matches free-form customer annotations on destinations
// against optimizer output.
package customer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/iago/fleetops-back/internal/domain"
	"go.uber.org/zap"
)

const (
	fieldDestinationCustomer = "destination_customer"
	fieldCustomerMetadata    = "customer_metadata"
)

var (
	locationFields = []string{"dest_street", "destStreet", "destination", "Destination", "DEST_STREET", "street"}
	customerFields = []string{"customer", "Customer", "CUSTOMER", "customerName", "name"}
	metadataFields = []string{"metadata", "customerData"}

	customerKeywords = []string{"customer", "client", "retailer", "distributor"}
)

type Match struct {
	Customer string
	Metadata json.RawMessage
}

// Index maps normalized destination strings to customer data. It belongs to
// one request or job and is built on first use.
type Index struct {
	destinations []json.RawMessage
	logger       *zap.Logger

	once    sync.Once
	entries map[string]Match
	mapped  int
}

func NewIndex(destinations []json.RawMessage, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{destinations: destinations, logger: logger}
}

// NewIndexFromDemands builds an index from typed allocation rows.
func NewIndexFromDemands(demands []domain.DestinationDemand, logger *zap.Logger) *Index {
	destinations := make([]json.RawMessage, 0, len(demands))
	for _, demand := range demands {
		if demand.Customer == "" {
			continue
		}
		raw, err := json.Marshal(demand)
		if err != nil {
			continue
		}
		destinations = append(destinations, raw)
	}
	return NewIndex(destinations, logger)
}

// Len reports how many destinations were registered.
func (i *Index) Len() int {
	i.build()
	return i.mapped
}

func (i *Index) Lookup(destination string) (Match, bool) {
	i.build()
	if len(i.entries) == 0 {
		return Match{}, false
	}
	for _, key := range Keys(destination) {
		if key == "" {
			continue
		}
		if match, ok := i.entries[key]; ok {
			return match, true
		}
	}
	return Match{}, false
}

func (i *Index) build() {
	i.once.Do(func() {
		i.entries = make(map[string]Match, len(i.destinations)*3)
		missing := 0
		for _, raw := range i.destinations {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(raw, &fields); err != nil {
				missing++
				continue
			}
			street := firstString(fields, locationFields)
			name := strings.TrimSpace(firstString(fields, customerFields))
			if street == "" || name == "" {
				missing++
				continue
			}
			match := Match{Customer: name, Metadata: firstObject(fields, metadataFields)}
			for _, key := range Keys(street) {
				if key != "" {
					i.entries[key] = match
				}
			}
			i.mapped++
		}
		i.logger.Debug("customer index built",
			zap.Int("mapped", i.mapped),
			zap.Int("incomplete", missing),
			zap.Int("entries", len(i.entries)),
		)
	})
}

// Keys returns the lookup forms of s in priority order: trimmed lower case,
// without whitespace, and alphanumerics only.
func Keys(s string) [3]string {
	norm := strings.ToLower(strings.TrimSpace(s))
	return [3]string{
		norm,
		strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, norm),
		strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, norm),
	}
}

// Merge attaches destination_customer and customer_metadata to each
// allocation whose destination is in the index. Unknown fields survive. If
// any allocation already carries a customer the input is returned as is.
func (i *Index) Merge(allocations []json.RawMessage) []json.RawMessage {
	if len(allocations) == 0 || i.Len() == 0 {
		return allocations
	}
	for _, raw := range allocations {
		if hasCustomer(raw) {
			i.logger.Debug("allocations already carry customers, skipping merge")
			return allocations
		}
	}

	merged := make([]json.RawMessage, 0, len(allocations))
	matched := 0
	for _, raw := range allocations {
		annotated, ok := i.Annotate(raw, "destination")
		if ok {
			matched++
		}
		merged = append(merged, annotated)
	}
	i.logger.Info("customer merge complete",
		zap.Int("matched", matched),
		zap.Int("allocations", len(allocations)),
	)
	return merged
}

// Annotate looks up the first present location field of object and, on a
// hit, returns a copy with the customer fields set.
func (i *Index) Annotate(object json.RawMessage, locationKeys ...string) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(object, &fields); err != nil {
		return object, false
	}
	destination := firstString(fields, locationKeys)
	if destination == "" {
		return object, false
	}
	match, ok := i.Lookup(destination)
	if !ok {
		i.logger.Debug("no customer for destination", zap.String("destination", destination))
		return object, false
	}

	fields[fieldDestinationCustomer], _ = json.Marshal(match.Customer)
	if len(match.Metadata) > 0 {
		fields[fieldCustomerMetadata] = match.Metadata
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return object, false
	}
	return encoded, true
}

// CustomerRecords flattens the matched allocations.
func CustomerRecords(allocations []json.RawMessage) []domain.CustomerRecord {
	records := make([]domain.CustomerRecord, 0)
	for _, raw := range allocations {
		var allocation domain.Allocation
		if err := json.Unmarshal(raw, &allocation); err != nil {
			continue
		}
		if allocation.DestinationCustomer == "" {
			continue
		}
		records = append(records, domain.CustomerRecord{
			Destination: allocation.Destination,
			Customer:    allocation.DestinationCustomer,
			Metadata:    allocation.CustomerMetadata,
		})
	}
	return records
}

func IsCustomerColumn(column string) bool {
	normalized := strings.ToLower(strings.TrimSpace(column))
	if normalized == "" {
		return false
	}
	for _, keyword := range customerKeywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

// FindCustomerColumn returns the first header that names a customer column.
func FindCustomerColumn(columns []string) (string, bool) {
	for _, column := range columns {
		if IsCustomerColumn(column) {
			return column, true
		}
	}
	return "", false
}

func hasCustomer(raw json.RawMessage) bool {
	var head struct {
		DestinationCustomer any `json:"destination_customer"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	switch value := head.DestinationCustomer.(type) {
	case nil:
		return false
	case string:
		return value != ""
	case bool:
		return value
	default:
		return true
	}
}

func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if value := scalarString(raw); value != "" {
			return value
		}
	}
	return ""
}

func firstObject(fields map[string]json.RawMessage, keys []string) json.RawMessage {
	for _, key := range keys {
		raw := bytes.TrimSpace(fields[key])
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		return append(json.RawMessage(nil), raw...)
	}
	return nil
}

func scalarString(raw json.RawMessage) string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		if typed {
			return "true"
		}
	}
	return ""
}
