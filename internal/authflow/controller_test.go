package authflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/internal/backend/backendtest"
	"chatsync/internal/domain"
)

type memCreds struct {
	data    map[string][]byte
	deleted []string
}

func newMemCreds() *memCreds {
	return &memCreds{data: make(map[string][]byte)}
}

func (m *memCreds) Save(key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memCreds) Load(key string) ([]byte, error) {
	return m.data[key], nil
}

func (m *memCreds) Delete(key string) error {
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newTestController(t *testing.T) (*Controller, *backendtest.Caller, *memCreds) {
	t.Helper()
	caller := &backendtest.Caller{}
	creds := newMemCreds()
	ctl := New(caller, creds, zap.NewNop())
	return ctl, caller, creds
}

func TestHandleState_IsTheOnlyStateTransition(t *testing.T) {
	ctl, _, _ := newTestController(t)
	assert.Equal(t, domain.AuthStateLoading, ctl.State())

	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateWaitPhoneNumber})
	assert.Equal(t, domain.AuthStateWaitPhoneNumber, ctl.State())

	// A successful submit never advances state by itself.
	require.NoError(t, ctl.SubmitPhoneNumber(t.Context(), "+1 555 000 1234"))
	assert.Equal(t, domain.AuthStateWaitPhoneNumber, ctl.State())
}

func TestSubmitPhoneNumber_Validation(t *testing.T) {
	ctl, caller, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateWaitPhoneNumber})

	for _, number := range []string{"", "123", "abc1234567", "+123456789012345678"} {
		err := ctl.SubmitPhoneNumber(t.Context(), number)
		assert.ErrorIs(t, err, ErrInvalidPhoneNumber, "number %q", number)
	}
	assert.Zero(t, caller.CallCount("SubmitPhoneNumber"), "invalid numbers never reach the backend")

	require.NoError(t, ctl.SubmitPhoneNumber(t.Context(), "+1-555-000-1234"))
	assert.Equal(t, 1, caller.CallCount("SubmitPhoneNumber"))
}

func TestSubmitCode_LengthFromCodeInfo(t *testing.T) {
	ctl, _, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{
		State: domain.AuthStateWaitCode,
		Code:  &domain.CodeInfo{PhoneNumber: "+15550001234", Length: 5},
	})

	assert.ErrorIs(t, ctl.SubmitCode(t.Context(), "1234"), ErrInvalidCode)
	assert.ErrorIs(t, ctl.SubmitCode(t.Context(), "12a45"), ErrInvalidCode)
	require.NoError(t, ctl.SubmitCode(t.Context(), "12345"))
}

func TestSubmit_WrongState(t *testing.T) {
	ctl, caller, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateWaitPhoneNumber})

	assert.ErrorIs(t, ctl.SubmitCode(t.Context(), "12345"), ErrWrongState)
	assert.ErrorIs(t, ctl.SubmitPassword(t.Context(), "hunter2"), ErrWrongState)
	assert.ErrorIs(t, ctl.SubmitRegistration(t.Context(), "Ada", "L"), ErrWrongState)
	assert.ErrorIs(t, ctl.ResendCode(t.Context()), ErrWrongState)
	assert.Empty(t, caller.Calls())
}

func TestSubmit_RemoteFailureKeepsState(t *testing.T) {
	ctl, caller, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateWaitPhoneNumber})

	caller.SubmitPhoneNumberFunc = func(string) error { return errors.New("PHONE_NUMBER_BANNED") }

	err := ctl.SubmitPhoneNumber(t.Context(), "+15550001234")
	require.Error(t, err)
	assert.Equal(t, domain.AuthStateWaitPhoneNumber, ctl.State())
	assert.Error(t, ctl.Err())

	ctl.ClearErr()
	assert.NoError(t, ctl.Err())
}

func TestSubmitPassword_HintAndValidation(t *testing.T) {
	ctl, _, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{
		State:        domain.AuthStateWaitPassword,
		PasswordHint: "pet name",
	})

	assert.Equal(t, "pet name", ctl.PasswordHint())
	assert.ErrorIs(t, ctl.SubmitPassword(t.Context(), ""), ErrEmptyPassword)
	require.NoError(t, ctl.SubmitPassword(t.Context(), "hunter2"))
}

func TestSubmitRegistration_RequiresFirstName(t *testing.T) {
	ctl, _, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateWaitRegistration})

	assert.ErrorIs(t, ctl.SubmitRegistration(t.Context(), "  ", "Lovelace"), ErrEmptyName)
	require.NoError(t, ctl.SubmitRegistration(t.Context(), "Ada", ""))
}

func TestResendCountdown(t *testing.T) {
	ctl, _, _ := newTestController(t)
	base := time.Unix(1700000000, 0)
	now := base
	ctl.now = func() time.Time { return now }

	ctl.HandleState(domain.AuthStateChanged{
		State: domain.AuthStateWaitCode,
		Code:  &domain.CodeInfo{Length: 5, ResendTimeout: 60 * time.Second},
	})
	assert.Equal(t, 60*time.Second, ctl.ResendAvailableIn())

	now = base.Add(45 * time.Second)
	assert.Equal(t, 15*time.Second, ctl.ResendAvailableIn())

	// A successful resend restarts the full countdown.
	require.NoError(t, ctl.ResendCode(t.Context()))
	assert.Equal(t, 60*time.Second, ctl.ResendAvailableIn())

	now = now.Add(2 * time.Minute)
	assert.Zero(t, ctl.ResendAvailableIn())
}

func TestResendCountdown_ClearedOnReset(t *testing.T) {
	ctl, _, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{
		State: domain.AuthStateWaitCode,
		Code:  &domain.CodeInfo{Length: 5, ResendTimeout: 60 * time.Second},
	})
	require.NotZero(t, ctl.ResendAvailableIn())

	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateWaitPhoneNumber})
	assert.Zero(t, ctl.ResendAvailableIn())
	assert.Nil(t, ctl.CodeInfo(), "stale code info dropped on reset")
}

func TestHooks_FireOnceOnTransition(t *testing.T) {
	ctl, _, _ := newTestController(t)

	var authorized, logouts int
	ctl.OnAuthorized(func() { authorized++ })
	ctl.OnLogout(func() { logouts++ })

	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateAuthorized})
	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateAuthorized})
	assert.Equal(t, 1, authorized, "repeated authorized events run hooks once")
	assert.True(t, ctl.Authorized())

	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateUnauthorized})
	assert.Equal(t, 1, logouts)
	assert.False(t, ctl.Authorized())
}

func TestUnauthorized_DeletesStoredSession(t *testing.T) {
	ctl, _, creds := newTestController(t)
	require.NoError(t, ctl.StoreSession([]byte("token")))

	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateUnauthorized})

	assert.Contains(t, creds.deleted, "session")
	data, err := ctl.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestLogout_DefersTeardownToEvent(t *testing.T) {
	ctl, caller, _ := newTestController(t)
	ctl.HandleState(domain.AuthStateChanged{State: domain.AuthStateAuthorized})

	var logouts int
	ctl.OnLogout(func() { logouts++ })

	require.NoError(t, ctl.Logout(t.Context()))
	assert.Equal(t, 1, caller.CallCount("LogOut"))
	assert.Equal(t, domain.AuthStateAuthorized, ctl.State(), "logout waits for the state event")
	assert.Zero(t, logouts)
}

func TestSessionRoundTrip(t *testing.T) {
	ctl, _, _ := newTestController(t)

	require.NoError(t, ctl.StoreSession([]byte("opaque")))
	data, err := ctl.LoadSession()
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque"), data)
}
