package session

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-manager/internal/utils"
)

// maxTimerDelay caps how far ahead a refresh may be armed. Deadlines beyond
// the cap are treated as "far future" and left unarmed until the tokens
// change again, so very long-lived development tokens cannot wrap the timer
// arithmetic.
const maxTimerDelay = time.Duration(math.MaxInt32) * time.Millisecond

// armRefreshLocked computes the refresh deadline for a freshly committed
// token pair and arms a timer for it. At most one timer is pending at any
// instant: commitLocked stops the previous one before calling here. A
// deadline already in the past fires the refresh immediately (still
// asynchronously). Caller holds m.mu.
func (m *Manager) armRefreshLocked(tokens *TokenPair) {
	if !m.refreshEnabled || tokens == nil || tokens.RefreshToken == "" {
		return
	}

	expiry := m.accessExpiry(tokens)
	if expiry.IsZero() {
		return
	}

	delay := expiry.Add(-m.threshold).Sub(m.nowTime())
	if delay > maxTimerDelay {
		return
	}
	if delay < 0 {
		delay = 0
	}

	gen := m.gen
	refreshToken := tokens.RefreshToken
	m.timer = time.AfterFunc(delay, func() {
		m.runRefresh(gen, refreshToken)
	})
}

// stopTimerLocked cancels the pending refresh timer, if any. Caller holds
// m.mu.
func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// runRefresh executes a scheduled refresh. The captured generation drops
// the execution when the session has transitioned (or been disposed) since
// the timer was armed. Refresh failure is terminal for the session: the
// state is cleared and no further timer is armed.
func (m *Manager) runRefresh(gen uint64, refreshToken string) {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	tokens, err := m.backend.Refresh(m.ctx, refreshToken)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || gen != m.gen {
		return
	}

	if err != nil {
		m.log.Warn().
			Err(errors.Wrapf(RefreshFailedErr, "[runRefresh] %s", rejectionMessage(err))).
			Msg("token refresh failed, ending session")
		m.commitLocked(Unauthenticated(), nil, true)
		return
	}

	// The generation check guarantees the state is still the authenticated
	// one the timer was armed for, so the user can be carried over.
	current := m.store.Get()
	m.commitLocked(Authenticated(utils.Value(current.User), utils.Value(tokens)), tokens, true)
	m.log.Debug().Time("accessExpiresAt", tokens.AccessExpiresAt).Msg("access token refreshed")
}
