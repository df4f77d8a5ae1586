package domain

import "time"

type Machine struct {
	ID            string
	OwnerID       string
	Name          string
	Kind          string
	BillingScheme BillingScheme
	Rate          int64
	Unit          string
	Available     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
