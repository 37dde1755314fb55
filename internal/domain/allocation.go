package domain

import "encoding/json"

// SourceSupply is one supply row of an allocation batch.
type SourceSupply struct {
	Street   string  `json:"source_street"`
	Capacity float64 `json:"capacity"`
}

// DestinationDemand is one demand row of an allocation batch. Customer and
// Metadata are side-channel annotations the worker never sees as required.
type DestinationDemand struct {
	Street   string          `json:"dest_street"`
	Demand   float64         `json:"demand"`
	Customer string          `json:"customer,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// AllocationInput is the file handed to the worker for an allocation job.
type AllocationInput struct {
	Sources      []SourceSupply      `json:"sources"`
	Destinations []DestinationDemand `json:"destinations"`
}

// Allocation is one line item produced by the worker.
type Allocation struct {
	Source              string          `json:"source"`
	Destination         string          `json:"destination"`
	Quantity            float64         `json:"quantity"`
	DestinationCustomer string          `json:"destination_customer,omitempty"`
	CustomerMetadata    json.RawMessage `json:"customer_metadata,omitempty"`
}

// CustomerRecord is the flattened customer view stored next to allocations.
type CustomerRecord struct {
	Destination string          `json:"destination"`
	Customer    string          `json:"customer"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// GeneratedRoute is derived from an allocation when the worker returned no routes.
type GeneratedRoute struct {
	ID                  string  `json:"id"`
	Source              string  `json:"source"`
	Destination         string  `json:"destination"`
	Quantity            float64 `json:"quantity"`
	DestinationCustomer string  `json:"destination_customer,omitempty"`
}

// AllocationResults is stored verbatim in an allocation job's Results.
// Allocations stay raw so fields the worker adds survive the round trip; each
// element decodes into Allocation.
type AllocationResults struct {
	Allocations          []json.RawMessage `json:"allocations"`
	Routes               []json.RawMessage `json:"routes"`
	DestinationCustomers []CustomerRecord  `json:"destination_customer"`
	RelocatedFrom        string            `json:"relocatedFrom,omitempty"`
}
