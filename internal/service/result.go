package service

import (
	"fmt"

	"farmer-auth/internal/repository"
)

type VerifyStatus int

const (
	VerifySuccess VerifyStatus = iota + 1
	VerifyNoPendingOTP
	VerifyExpired
	VerifyAttemptsExceeded
	VerifyMismatch
	VerifyInvalidPhone
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifySuccess:
		return "success"
	case VerifyNoPendingOTP:
		return "no_pending_otp"
	case VerifyExpired:
		return "expired"
	case VerifyAttemptsExceeded:
		return "attempts_exceeded"
	case VerifyMismatch:
		return "mismatch"
	case VerifyInvalidPhone:
		return "invalid_phone"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// VerifyResult is the outcome of one verification call. RemainingAttempts is
// meaningful only for VerifyMismatch.
type VerifyResult struct {
	Status            VerifyStatus `json:"-"`
	RemainingAttempts int          `json:"remaining_attempts"`
}

func (r VerifyResult) Success() bool {
	return r.Status == VerifySuccess
}

// Message is the user-facing text for the outcome.
func (r VerifyResult) Message() string {
	switch r.Status {
	case VerifySuccess:
		return "OTP verified successfully"
	case VerifyNoPendingOTP:
		return "OTP not requested. Please request OTP first."
	case VerifyExpired:
		return "OTP expired. Please request a new OTP."
	case VerifyAttemptsExceeded:
		return "Maximum attempts exceeded. Please request a new OTP."
	case VerifyMismatch:
		return fmt.Sprintf("Invalid OTP. %d attempts remaining.", r.RemainingAttempts)
	case VerifyInvalidPhone:
		return "Invalid phone number format"
	default:
		return "Verification failed. Please try again."
	}
}

// SendResult is returned by a successful SendOTP.
type SendResult struct {
	ExpiresInSeconds int `json:"expires_in_seconds"`
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	State    string `json:"state"`
	District string `json:"district"`
	Language string `json:"language"`
}

// Stats is a point-in-time view of the in-memory OTP state.
type Stats struct {
	PendingOTPs     int `json:"pending_otps"`
	CooldownEntries int `json:"cooldown_entries"`
	LockStripes     int `json:"lock_stripes"`

	RegistryPool *repository.PoolStats `json:"registry_pool,omitempty"`
}
