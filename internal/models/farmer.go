package models

import (
	"fmt"
	"time"
)

// Farmer is the registry record for one phone number. Phone is the natural key.
type Farmer struct {
	FarmerID  string     `json:"farmer_id" db:"farmer_id"`
	Phone     string     `json:"phone" db:"phone"`
	Name      string     `json:"name" db:"name"`
	State     string     `json:"state" db:"state"`
	District  string     `json:"district" db:"district"`
	Language  string     `json:"language" db:"language"`
	Verified  bool       `json:"verified" db:"is_verified"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty" db:"last_login"`
}

// NewFarmerID derives an identifier from the phone and creation second.
func NewFarmerID(phone string, createdAt time.Time) string {
	return fmt.Sprintf("FARM_%s_%d", phone, createdAt.Unix())
}

// MarkVerified flips the verified flag and stamps the login time.
func (f *Farmer) MarkVerified(at time.Time) {
	f.Verified = true
	t := at
	f.LastLogin = &t
}

// Clone returns a copy that shares no pointers with f.
func (f *Farmer) Clone() *Farmer {
	if f == nil {
		return nil
	}
	c := *f
	if f.LastLogin != nil {
		t := *f.LastLogin
		c.LastLogin = &t
	}
	return &c
}
