// Package authflow drives the authorization handshake. The controller
// is a state machine gated by server events: submit operations issue
// remote calls and surface typed errors, but the state only advances
// when the corresponding AuthStateChanged event arrives on the stream.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/backend"
	"chatsync/internal/domain"
)

const sessionKey = "session"

var (
	ErrInvalidPhoneNumber = errors.New("authflow: invalid phone number")
	ErrInvalidCode        = errors.New("authflow: invalid code format")
	ErrEmptyPassword      = errors.New("authflow: empty password")
	ErrEmptyName          = errors.New("authflow: first name required")
	ErrWrongState         = errors.New("authflow: operation not valid in current state")
)

type Controller struct {
	caller backend.Caller
	creds  backend.CredentialStore
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        domain.AuthState
	code         *domain.CodeInfo
	passwordHint string
	err          error

	resendDeadline time.Time

	onAuthorized []func()
	onLogout     []func()
}

func New(caller backend.Caller, creds backend.CredentialStore, logger *zap.Logger) *Controller {
	return &Controller{
		caller: caller,
		creds:  creds,
		logger: logger,
		now:    time.Now,
		state:  domain.AuthStateLoading,
	}
}

// OnAuthorized registers a hook run when the state reaches authorized.
func (c *Controller) OnAuthorized(fn func()) {
	c.mu.Lock()
	c.onAuthorized = append(c.onAuthorized, fn)
	c.mu.Unlock()
}

// OnLogout registers a teardown hook run when the state becomes
// unauthorized. This is the one top-down reset that fans out to every
// derived component (cache, controllers).
func (c *Controller) OnLogout(fn func()) {
	c.mu.Lock()
	c.onLogout = append(c.onLogout, fn)
	c.mu.Unlock()
}

// HandleState consumes an authorization-state event. This is the only
// place the machine's state changes.
func (c *Controller) HandleState(ev domain.AuthStateChanged) {
	c.mu.Lock()
	prev := c.state
	c.state = ev.State

	switch ev.State {
	case domain.AuthStateWaitCode:
		if ev.Code != nil {
			c.code = ev.Code
			c.restartResendCountdownLocked(ev.Code.ResendTimeout)
		}
	case domain.AuthStateWaitPassword:
		c.passwordHint = ev.PasswordHint
	case domain.AuthStateLoading, domain.AuthStateWaitPhoneNumber, domain.AuthStateUnauthorized:
		// Full reset: countdown cleared, stale code info dropped.
		c.code = nil
		c.passwordHint = ""
		c.resendDeadline = time.Time{}
	case domain.AuthStateAuthorized:
		c.resendDeadline = time.Time{}
	}

	var hooks []func()
	if ev.State == domain.AuthStateAuthorized && prev != domain.AuthStateAuthorized {
		hooks = append(hooks, c.onAuthorized...)
	}
	if ev.State == domain.AuthStateUnauthorized && prev != domain.AuthStateUnauthorized {
		hooks = append(hooks, c.onLogout...)
	}
	c.mu.Unlock()

	c.logger.Info("authorization state changed",
		zap.Stringer("from", prev), zap.Stringer("to", ev.State))
	for _, fn := range hooks {
		fn()
	}
	if ev.State == domain.AuthStateUnauthorized {
		if err := c.creds.Delete(sessionKey); err != nil {
			c.logger.Warn("deleting stored session failed", zap.Error(err))
		}
	}
}

// SubmitPhoneNumber validates the number and asks the backend to send a
// login code. Does not advance state.
func (c *Controller) SubmitPhoneNumber(ctx context.Context, number string) error {
	if !validPhoneNumber(number) {
		return c.fail(ErrInvalidPhoneNumber)
	}
	if c.State() != domain.AuthStateWaitPhoneNumber {
		return c.fail(ErrWrongState)
	}
	if err := c.caller.SubmitPhoneNumber(ctx, number); err != nil {
		return c.fail(fmt.Errorf("submit phone number: %w", err))
	}
	return nil
}

// SubmitCode submits a received login code.
func (c *Controller) SubmitCode(ctx context.Context, code string) error {
	if !validCode(code, c.CodeInfo()) {
		return c.fail(ErrInvalidCode)
	}
	if c.State() != domain.AuthStateWaitCode {
		return c.fail(ErrWrongState)
	}
	if err := c.caller.SubmitCode(ctx, code); err != nil {
		return c.fail(fmt.Errorf("submit code: %w", err))
	}
	return nil
}

// SubmitPassword submits the two-factor password.
func (c *Controller) SubmitPassword(ctx context.Context, password string) error {
	if password == "" {
		return c.fail(ErrEmptyPassword)
	}
	if c.State() != domain.AuthStateWaitPassword {
		return c.fail(ErrWrongState)
	}
	if err := c.caller.SubmitPassword(ctx, password); err != nil {
		return c.fail(fmt.Errorf("submit password: %w", err))
	}
	return nil
}

// SubmitRegistration registers a new account on the entered number.
func (c *Controller) SubmitRegistration(ctx context.Context, firstName, lastName string) error {
	if strings.TrimSpace(firstName) == "" {
		return c.fail(ErrEmptyName)
	}
	if c.State() != domain.AuthStateWaitRegistration {
		return c.fail(ErrWrongState)
	}
	if err := c.caller.SubmitRegistration(ctx, firstName, lastName); err != nil {
		return c.fail(fmt.Errorf("submit registration: %w", err))
	}
	return nil
}

// ResendCode requests a fresh login code and restarts the resend
// countdown with the last known timeout.
func (c *Controller) ResendCode(ctx context.Context) error {
	if c.State() != domain.AuthStateWaitCode {
		return c.fail(ErrWrongState)
	}
	if err := c.caller.ResendCode(ctx); err != nil {
		return c.fail(fmt.Errorf("resend code: %w", err))
	}
	c.mu.Lock()
	if c.code != nil {
		c.restartResendCountdownLocked(c.code.ResendTimeout)
	}
	c.mu.Unlock()
	return nil
}

// Logout asks the backend to terminate the session. Teardown happens
// when the unauthorized state event arrives, not here.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.caller.LogOut(ctx); err != nil {
		return c.fail(fmt.Errorf("log out: %w", err))
	}
	return nil
}

// StoreSession persists the session token through the credential store.
func (c *Controller) StoreSession(token []byte) error {
	if err := c.creds.Save(sessionKey, token); err != nil {
		return c.fail(fmt.Errorf("store session: %w", err))
	}
	return nil
}

// LoadSession returns the persisted session token, nil if none exists.
func (c *Controller) LoadSession() ([]byte, error) {
	data, err := c.creds.Load(sessionKey)
	if err != nil {
		return nil, c.fail(fmt.Errorf("load session: %w", err))
	}
	return data, nil
}

func (c *Controller) State() domain.AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Authorized() bool {
	return c.State() == domain.AuthStateAuthorized
}

func (c *Controller) CodeInfo() *domain.CodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code == nil {
		return nil
	}
	cp := *c.code
	return &cp
}

func (c *Controller) PasswordHint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passwordHint
}

// ResendAvailableIn reports how long until another code may be
// requested; zero means resend is available now.
func (c *Controller) ResendAvailableIn() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resendDeadline.IsZero() {
		return 0
	}
	d := c.resendDeadline.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// Err returns the last surfaced error; the caller clears it explicitly.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) ClearErr() {
	c.mu.Lock()
	c.err = nil
	c.mu.Unlock()
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return err
}

func (c *Controller) restartResendCountdownLocked(timeout time.Duration) {
	if timeout <= 0 {
		c.resendDeadline = time.Time{}
		return
	}
	c.resendDeadline = c.now().Add(timeout)
}

func validPhoneNumber(number string) bool {
	number = strings.TrimPrefix(strings.TrimSpace(number), "+")
	number = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
	if len(number) < 7 || len(number) > 15 {
		return false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validCode(code string, info *domain.CodeInfo) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	if info != nil && info.Length > 0 {
		return len(code) == info.Length
	}
	return len(code) >= 4 && len(code) <= 8
}
