// Package models provides data models for the carbon marketplace.
package models

import (
	"time"
)

// User represents an account in the users table.
// KYC is nullable: nil and false both mean "not verified".
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"firstName" db:"first_name"`
	LastName     string    `json:"lastName" db:"last_name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	KYC          *bool     `json:"kyc" db:"kyc"`
	IsAdmin      bool      `json:"isAdmin" db:"is_admin"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// KYCApproved reports whether the kyc flag is set to true
func (u *User) KYCApproved() bool {
	return u != nil && u.KYC != nil && *u.KYC
}

// KYCSubmission is a user's identity submission in user_kyc. At most one exists per user.
type KYCSubmission struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"userId" db:"user_id"`
	FullName       string    `json:"fullName" db:"full_name"`
	PhoneNumber    string    `json:"phoneNumber" db:"phone_number"`
	Username       string    `json:"username" db:"username"`
	DocumentType   string    `json:"documentType" db:"document_type"`
	DocumentNumber string    `json:"documentNumber" db:"document_number"`
	DocumentImage  string    `json:"documentImage" db:"document_image"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}
