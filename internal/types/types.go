// Package types provides common type definitions for the carbon marketplace.
package types

import "strings"

// PropertyStatus represents the lifecycle stage of a listed project
type PropertyStatus string

const (
	// StatusLaunchpad is a project still raising its initial offering
	StatusLaunchpad PropertyStatus = "launchpad"
	// StatusTrading is a project whose shares trade freely
	StatusTrading PropertyStatus = "trading"
)

// Valid reports whether s is a known property status
func (s PropertyStatus) Valid() bool {
	return s == StatusLaunchpad || s == StatusTrading
}

// KYCStatus is the resolved verification state of the current user
type KYCStatus string

const (
	// KYCUnknown means there is no user or the lookup has not produced an answer
	KYCUnknown KYCStatus = "unknown"
	// KYCVerified means users.kyc is true
	KYCVerified KYCStatus = "verified"
	// KYCPending means a submission exists but the flag is not yet true
	KYCPending KYCStatus = "pending"
	// KYCNotSubmitted means no submission exists and the flag is not true
	KYCNotSubmitted KYCStatus = "not_submitted"
)

// Tri returns the tri-state view of the status: nil for unknown, true for verified, false otherwise
func (s KYCStatus) Tri() *bool {
	switch s {
	case KYCVerified:
		v := true
		return &v
	case KYCPending, KYCNotSubmitted:
		v := false
		return &v
	default:
		return nil
	}
}

// InvestAction is the single call to action offered on a property page
type InvestAction string

const (
	ActionLogin       InvestAction = "login"
	ActionChecking    InvestAction = "checking"
	ActionPending     InvestAction = "pending"
	ActionCompleteKYC InvestAction = "complete_kyc"
	ActionInvest      InvestAction = "invest"
)

// Label is the button text shown for the action
func (a InvestAction) Label() string {
	switch a {
	case ActionLogin:
		return "Login to start investing"
	case ActionChecking:
		return "Checking KYC status"
	case ActionPending:
		return "KYC under process"
	case ActionCompleteKYC:
		return "Complete KYC"
	default:
		return "Invest"
	}
}

// InvestActionFor maps the session and KYC state to exactly one action
func InvestActionFor(loggedIn bool, status KYCStatus) InvestAction {
	if !loggedIn {
		return ActionLogin
	}
	switch status {
	case KYCVerified:
		return ActionInvest
	case KYCPending:
		return ActionPending
	case KYCNotSubmitted:
		return ActionCompleteKYC
	default:
		return ActionChecking
	}
}

// PriceSort orders catalog rows by price
type PriceSort string

const (
	SortNone      PriceSort = ""
	SortLowToHigh PriceSort = "low-to-high"
	SortHighToLow PriceSort = "high-to-low"
)

// ParsePriceSort accepts the URL forms and the display labels
func ParsePriceSort(s string) (PriceSort, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SortNone, true
	case "low-to-high", "low to high", "asc":
		return SortLowToHigh, true
	case "high-to-low", "high to low", "desc":
		return SortHighToLow, true
	default:
		return SortNone, false
	}
}

// RetirementStatus tracks a credit retirement through the chain call
type RetirementStatus string

const (
	RetirementPending   RetirementStatus = "pending"
	RetirementSubmitted RetirementStatus = "submitted"
	RetirementConfirmed RetirementStatus = "confirmed"
	RetirementFailed    RetirementStatus = "failed"
)

// Final reports whether no further transition is allowed
func (s RetirementStatus) Final() bool {
	return s == RetirementConfirmed || s == RetirementFailed
}

// KYCFilter selects users in the admin list
type KYCFilter string

const (
	KYCFilterAll      KYCFilter = "all"
	KYCFilterApproved KYCFilter = "approved"
	KYCFilterPending  KYCFilter = "pending"
)

// ParseKYCFilter accepts the filter names used by the admin console
func ParseKYCFilter(s string) (KYCFilter, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return KYCFilterAll, true
	case "approved", "kyc":
		return KYCFilterApproved, true
	case "pending", "nonkyc":
		return KYCFilterPending, true
	default:
		return KYCFilterAll, false
	}
}

// DocumentTypes are the identity documents accepted for KYC
var DocumentTypes = []string{"Aadhar", "PAN", "Driving Licence", "Voter ID"}

// ValidDocumentType reports whether t is one of DocumentTypes
func ValidDocumentType(t string) bool {
	for _, d := range DocumentTypes {
		if d == t {
			return true
		}
	}
	return false
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError builds a ServiceError without details
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Error codes shared by services and the API layer
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeLoginRequired       = "LOGIN_REQUIRED"
	CodeAdminLoginRequired  = "ADMIN_LOGIN_REQUIRED"
	CodePermissionPending   = "PERMISSION_CHECK_PENDING"
	CodeForbidden           = "FORBIDDEN"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailTaken          = "EMAIL_TAKEN"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodePropertyNotFound    = "PROPERTY_NOT_FOUND"
	CodeOwnershipNotFound   = "OWNERSHIP_NOT_FOUND"
	CodeRetirementNotFound  = "RETIREMENT_NOT_FOUND"
	CodeKYCRequired         = "KYC_REQUIRED"
	CodeKYCAlreadySubmitted = "KYC_ALREADY_SUBMITTED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeOperationInProgress = "OPERATION_IN_PROGRESS"
	CodeOrderCreateFailed   = "ORDER_CREATE_FAILED"
	CodePaymentVerifyFailed = "PAYMENT_VERIFICATION_FAILED"
	CodeChainCallFailed     = "CHAIN_CALL_FAILED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeRetirementNotReady  = "RETIREMENT_NOT_CONFIRMED"
)
