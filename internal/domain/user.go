package domain

import "time"

// UserStatus is the closed set of presence variants.
type UserStatus interface {
	isUserStatus()
}

type StatusOnline struct{}

type StatusOffline struct {
	WasOnline time.Time
}

type StatusUnknown struct{}

func (StatusOnline) isUserStatus()  {}
func (StatusOffline) isUserStatus() {}
func (StatusUnknown) isUserStatus() {}

type User struct {
	ID          int64
	FirstName   string
	LastName    string
	Username    string
	PhoneNumber string
	Bio         string
	IsBlocked   bool
	IsBot       bool
	IsVerified  bool
	IsPremium   bool
	Status      UserStatus
}

// DisplayName returns the best available human-readable name.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return "Unknown"
	}
}
