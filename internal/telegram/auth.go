package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"chatsync/internal/domain"
)

// flowAuth implements gotd's auth.UserAuthenticator using channels so
// credentials can be supplied asynchronously through the Caller's
// Submit* methods. Each prompt also emits the matching
// AuthStateChanged event onto the client's stream.
type flowAuth struct {
	client *Client

	phoneCh        chan string
	codeCh         chan string
	passwordCh     chan string
	registrationCh chan [2]string

	mu            sync.Mutex
	phone         string
	phoneCodeHash string
}

func newFlowAuth(client *Client) *flowAuth {
	return &flowAuth{
		client:         client,
		phoneCh:        make(chan string, 1),
		codeCh:         make(chan string, 1),
		passwordCh:     make(chan string, 1),
		registrationCh: make(chan [2]string, 1),
	}
}

func (a *flowAuth) Phone(ctx context.Context) (string, error) {
	a.client.emit(domain.AuthStateChanged{State: domain.AuthStateWaitPhoneNumber})
	select {
	case phone := <-a.phoneCh:
		a.mu.Lock()
		a.phone = phone
		a.mu.Unlock()
		return phone, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *flowAuth) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	a.mu.Lock()
	a.phoneCodeHash = sentCode.PhoneCodeHash
	phone := a.phone
	a.mu.Unlock()

	a.client.emit(domain.AuthStateChanged{
		State: domain.AuthStateWaitCode,
		Code:  codeInfo(phone, sentCode),
	})
	select {
	case code := <-a.codeCh:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *flowAuth) Password(ctx context.Context) (string, error) {
	a.client.emit(domain.AuthStateChanged{State: domain.AuthStateWaitPassword})
	select {
	case pw := <-a.passwordCh:
		return pw, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *flowAuth) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a *flowAuth) SignUp(ctx context.Context) (auth.UserInfo, error) {
	a.client.emit(domain.AuthStateChanged{State: domain.AuthStateWaitRegistration})
	select {
	case name := <-a.registrationCh:
		return auth.UserInfo{FirstName: name[0], LastName: name[1]}, nil
	case <-ctx.Done():
		return auth.UserInfo{}, ctx.Err()
	}
}

func (a *flowAuth) codeHash() (phone, hash string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phoneCodeHash == "" {
		return "", "", errors.New("no code has been requested")
	}
	return a.phone, a.phoneCodeHash, nil
}

func (a *flowAuth) setCodeHash(hash string) {
	a.mu.Lock()
	a.phoneCodeHash = hash
	a.mu.Unlock()
}

func codeInfo(phone string, sentCode *tg.AuthSentCode) *domain.CodeInfo {
	info := &domain.CodeInfo{PhoneNumber: phone}
	if sentCode == nil {
		return info
	}
	if timeout, ok := sentCode.GetTimeout(); ok {
		info.ResendTimeout = time.Duration(timeout) * time.Second
	}
	switch t := sentCode.Type.(type) {
	case *tg.AuthSentCodeTypeApp:
		info.Length = t.Length
	case *tg.AuthSentCodeTypeSMS:
		info.Length = t.Length
	case *tg.AuthSentCodeTypeCall:
		info.Length = t.Length
	}
	return info
}
