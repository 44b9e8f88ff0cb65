package models

import (
	"time"

	"github.com/carbon-marketplace/internal/types"
)

// Retirement is a credit offset recorded in the offset table.
// A confirmed retirement is never modified again.
type Retirement struct {
	ID                 string                 `json:"id" db:"id"`
	UserID             string                 `json:"userId" db:"user_id"`
	PropertyID         string                 `json:"propertyId" db:"property_id"`
	OwnerID            string                 `json:"ownerId" db:"owner_id"`
	ProjectName        string                 `json:"projectName" db:"project_name"`
	Credits            int64                  `json:"credits" db:"credits"`
	BeneficiaryAddress string                 `json:"beneficiaryAddress" db:"beneficiary_address"`
	BeneficiaryName    string                 `json:"beneficiaryName" db:"beneficiary_name"`
	Description        string                 `json:"description" db:"description"`
	TxHash             *string                `json:"txHash,omitempty" db:"tx_hash"`
	Status             types.RetirementStatus `json:"status" db:"status"`
	Error              *string                `json:"error,omitempty" db:"error"`
	CreatedAt          time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time              `json:"updatedAt" db:"updated_at"`
}

// ActivityKind labels an entry in the activity ledger
type ActivityKind string

const (
	ActivityInvestment ActivityKind = "investment"
	ActivityRetirement ActivityKind = "retirement"
)

// ActivityEvent is one append-only ledger row
type ActivityEvent struct {
	UserID     string       `json:"userId" ch:"user_id"`
	PropertyID string       `json:"propertyId" ch:"property_id"`
	Kind       ActivityKind `json:"kind" ch:"kind"`
	Quantity   int64        `json:"quantity" ch:"quantity"`
	Reference  string       `json:"reference" ch:"reference"`
	OccurredAt time.Time    `json:"occurredAt" ch:"occurred_at"`
}
