package models

import "time"

type AuthEventType string

const (
	EventRegistered      AuthEventType = "registered"
	EventOTPSent         AuthEventType = "otp_sent"
	EventOTPCooldown     AuthEventType = "otp_cooldown"
	EventOTPDeliveryFail AuthEventType = "otp_delivery_failed"
	EventVerifySuccess   AuthEventType = "verify_success"
	EventVerifyMismatch  AuthEventType = "verify_mismatch"
	EventVerifyExpired   AuthEventType = "verify_expired"
	EventVerifyExhausted AuthEventType = "verify_attempts_exceeded"
	EventVerifyNoPending AuthEventType = "verify_no_pending"
	EventOTPSwept        AuthEventType = "otp_swept"
	EventRegistryFailure AuthEventType = "registry_failure"
)

// AuthEvent is one audit trail entry. Phones are carried only as SHA-256 hashes.
type AuthEvent struct {
	EventID   string        `json:"event_id" ch:"event_id"`
	EventType AuthEventType `json:"event_type" ch:"event_type"`
	PhoneHash string        `json:"phone_hash" ch:"phone_hash"`
	FarmerID  string        `json:"farmer_id,omitempty" ch:"farmer_id"`
	EventDate string        `json:"event_date" ch:"event_date"`
	EventTime time.Time     `json:"event_time" ch:"event_time"`
	Remaining int           `json:"remaining_attempts,omitempty" ch:"remaining_attempts"`
	WaitSecs  int           `json:"wait_seconds,omitempty" ch:"wait_seconds"`
	Details   string        `json:"details,omitempty" ch:"details"`
}
