package models

import "time"

// OTPRecord is the pending code for one phone. It lives only in process memory.
type OTPRecord struct {
	CodeHash      string    `json:"code_hash"`
	Salt          string    `json:"salt"`
	PepperVersion int       `json:"pepper_version"`
	Algorithm     string    `json:"algorithm"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Attempts      int       `json:"attempts"`
	Verified      bool      `json:"verified"`
}

// IsExpired reports whether now is past the expiry instant.
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
