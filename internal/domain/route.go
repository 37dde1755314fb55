package domain

import "encoding/json"

// RoutePair is the canonical shape of one requested route after alias
// normalization.
type RoutePair struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Customer    string `json:"customer,omitempty"`
}

// SourceGroup is one source with all of its destinations, used when a route
// job is linked to an allocation job.
type SourceGroup struct {
	Source       string            `json:"source"`
	Destinations []string          `json:"destinations"`
	Customers    map[string]string `json:"customers,omitempty"`
}

// RouteJobInput is persisted with a route job so any worker can replay it.
type RouteJobInput struct {
	Pairs        []RoutePair       `json:"pairs,omitempty"`
	Groups       []SourceGroup     `json:"groups,omitempty"`
	Destinations []json.RawMessage `json:"destinations,omitempty"`
}

// RoutePairInput is the file handed to the worker for a single pair.
type RoutePairInput struct {
	Source             string `json:"source"`
	Destination        string `json:"destination"`
	IsMultiDestination bool   `json:"isMultiDestination"`
}

// RouteGroupInput is the file handed to the worker for a source group.
type RouteGroupInput struct {
	Source             string   `json:"source"`
	Destinations       []string `json:"destinations"`
	IsMultiDestination bool     `json:"isMultiDestination"`
}

// RouteUnitError records a unit that produced no route.
type RouteUnitError struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Source   string `json:"source,omitempty"`
	Customer string `json:"customer,omitempty"`
	Error    string `json:"error"`
}

// RouteResults is stored verbatim in a route job's Results.
type RouteResults struct {
	Routes         []json.RawMessage `json:"routes"`
	Errors         []RouteUnitError  `json:"errors"`
	TotalProcessed int               `json:"totalProcessed"`
	SuccessCount   int               `json:"successCount"`
	ErrorCount     int               `json:"errorCount"`
	RelocatedFrom  string            `json:"relocatedFrom,omitempty"`
}
