package models

import (
	"time"
)

// Ownership is the number of credits a user holds in one project (owners table)
type Ownership struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"userId" db:"user_id"`
	PropertyID string    `json:"propertyId" db:"property_id"`
	Credits    int64     `json:"credits" db:"credits"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// Holding is an ownership joined with the project it refers to
type Holding struct {
	Ownership
	ProjectName string `json:"projectName"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	Price       string `json:"price"`
	Image       string `json:"image"`
}
