package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPhone      = errors.New("invalid phone number format")
	ErrAlreadyRegistered = errors.New("farmer already registered")
	ErrNotRegistered     = errors.New("farmer not registered")
	ErrCooldownActive    = errors.New("otp cooldown active")
	ErrStorage           = errors.New("storage failure")
	ErrInvalidInput      = errors.New("invalid input")
)

// CooldownError reports how long the caller must wait before requesting
// another OTP. It matches ErrCooldownActive with errors.Is.
type CooldownError struct {
	WaitSeconds int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %ds before requesting another OTP", e.WaitSeconds)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// StorageError wraps a registry failure. Callers see it as ErrStorage; the
// cause stays reachable through Unwrap for logging.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("registry %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
