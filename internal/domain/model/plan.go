package model

import "time"

// Plan is a sellable VPN package.
type Plan struct {
	ID           string // UUID
	Name         string
	DataLimitGB  int
	DurationDays int
	PriceIRR     int64 // minor units, integer to avoid float errors
	TestPlan     bool  // free trial plan used by the test-user flow
	CreatedAt    time.Time
}
