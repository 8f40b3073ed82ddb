package leads

import "slices"

// Closed value sets for enumerated buyer fields. Order is the order clients
// display them in and the order validation messages list them.
var (
	Cities        = []string{"Chandigarh", "Mohali", "Zirakpur", "Panchkula", "Other"}
	PropertyTypes = []string{"Apartment", "Villa", "Plot", "Office", "Retail"}
	BHKs          = []string{"1", "2", "3", "4", "Studio"}
	Purposes      = []string{"Buy", "Rent"}
	Timelines     = []string{"0-3m", "3-6m", ">6m", "Exploring"}
	Sources       = []string{"Website", "Referral", "Walk-in", "Call", "Other"}
	Statuses      = []string{"New", "Qualified", "Contacted", "Visited", "Negotiation", "Converted", "Dropped"}
)

const (
	StatusNew = "New"

	PropertyApartment = "Apartment"
	PropertyVilla     = "Villa"
)

// RequiresBHK reports whether a property type is residential and must carry a BHK.
func RequiresBHK(propertyType string) bool {
	return propertyType == PropertyApartment || propertyType == PropertyVilla
}

// enumParam returns v when it belongs to allowed, otherwise "".
func enumParam(v string, allowed []string) string {
	if slices.Contains(allowed, v) {
		return v
	}
	return ""
}

// FilterOptions is the payload for populating client-side filters.
type FilterOptions struct {
	Cities        []string `json:"cities"`
	PropertyTypes []string `json:"propertyTypes"`
	Statuses      []string `json:"statuses"`
	Timelines     []string `json:"timelines"`
}

// Filters returns the enumerations exposed to clients.
func Filters() FilterOptions {
	return FilterOptions{
		Cities:        slices.Clone(Cities),
		PropertyTypes: slices.Clone(PropertyTypes),
		Statuses:      slices.Clone(Statuses),
		Timelines:     slices.Clone(Timelines),
	}
}
