package backendfakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-session-manager/session"
)

var _ session.Backend = (*FakeBackend)(nil)

// FakeBackend is a scriptable session.Backend for tests. Each operation
// delegates to its corresponding func field and counts its calls; an
// unscripted operation fails.
type FakeBackend struct {
	LoginFunc       func(ctx context.Context, email, password string) (*session.TokenPair, error)
	RefreshFunc     func(ctx context.Context, refreshToken string) (*session.TokenPair, error)
	CurrentUserFunc func(ctx context.Context, accessToken string) (*session.UserIdentity, error)

	lock             sync.Mutex
	loginCalls       int
	refreshCalls     int
	currentUserCalls int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

func (b *FakeBackend) Login(ctx context.Context, email, password string) (*session.TokenPair, error) {
	b.lock.Lock()
	b.loginCalls++
	fn := b.LoginFunc
	b.lock.Unlock()

	if fn == nil {
		return nil, errors.New("login not scripted")
	}
	return fn(ctx, email, password)
}

func (b *FakeBackend) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	b.lock.Lock()
	b.refreshCalls++
	fn := b.RefreshFunc
	b.lock.Unlock()

	if fn == nil {
		return nil, errors.New("refresh not scripted")
	}
	return fn(ctx, refreshToken)
}

func (b *FakeBackend) CurrentUser(ctx context.Context, accessToken string) (*session.UserIdentity, error) {
	b.lock.Lock()
	b.currentUserCalls++
	fn := b.CurrentUserFunc
	b.lock.Unlock()

	if fn == nil {
		return nil, errors.New("current user not scripted")
	}
	return fn(ctx, accessToken)
}

func (b *FakeBackend) LoginCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.loginCalls
}

func (b *FakeBackend) RefreshCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.refreshCalls
}

func (b *FakeBackend) CurrentUserCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.currentUserCalls
}
