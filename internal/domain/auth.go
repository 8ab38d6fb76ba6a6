package domain

import "time"

// AuthState is the server-driven authorization state. Exactly one state
// is active at a time; transitions arrive as AuthStateChanged events,
// never from local actions directly.
type AuthState int

const (
	AuthStateLoading AuthState = iota
	AuthStateWaitPhoneNumber
	AuthStateWaitCode
	AuthStateWaitPassword
	AuthStateWaitRegistration
	AuthStateAuthorized
	AuthStateUnauthorized
)

func (s AuthState) String() string {
	switch s {
	case AuthStateLoading:
		return "loading"
	case AuthStateWaitPhoneNumber:
		return "waitPhoneNumber"
	case AuthStateWaitCode:
		return "waitCode"
	case AuthStateWaitPassword:
		return "waitPassword"
	case AuthStateWaitRegistration:
		return "waitRegistration"
	case AuthStateAuthorized:
		return "authorized"
	case AuthStateUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// CodeInfo describes a login code the server has sent.
type CodeInfo struct {
	PhoneNumber   string
	Length        int
	ResendTimeout time.Duration
}
