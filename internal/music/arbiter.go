package music

import (
	"log/slog"

	"github.com/DimaMzk/AnotherGlass/internal/host"
)

// Transition is the outcome of feeding the arbiter a session event.
type Transition int

const (
	// TransitionNone leaves tracking as it was.
	TransitionNone Transition = iota
	// TransitionTracked started tracking from Untracked.
	TransitionTracked
	// TransitionSwitched moved tracking to a different session.
	TransitionSwitched
	// TransitionCleared dropped the tracked session.
	TransitionCleared
)

func (t Transition) String() string {
	switch t {
	case TransitionTracked:
		return "tracked"
	case TransitionSwitched:
		return "switched"
	case TransitionCleared:
		return "cleared"
	default:
		return "none"
	}
}

// CallbackFactory builds the callback registered on a newly tracked session.
type CallbackFactory func(token string) host.MediaCallback

// Arbiter picks the one media session the bridge follows: the first active
// session of the preferred app. Sessions are compared by token, since the host
// hands out new controller objects for the same session. Callback registration
// happens only inside transitions.
//
// An Arbiter is not safe for concurrent use; the bridge drives it from the
// dispatch loop.
type Arbiter struct {
	preferred   string
	newCallback CallbackFactory

	tracked  host.MediaController
	token    string
	callback host.MediaCallback
}

func NewArbiter(preferred string, newCallback CallbackFactory) *Arbiter {
	return &Arbiter{preferred: preferred, newCallback: newCallback}
}

// Tracked returns the tracked controller, or nil.
func (a *Arbiter) Tracked() host.MediaController { return a.tracked }

// Token returns the tracked session token, or "".
func (a *Arbiter) Token() string { return a.token }

// Update applies a new active-session list.
func (a *Arbiter) Update(controllers []host.MediaController) Transition {
	match, token := a.findPreferred(controllers)
	if match == nil {
		if a.tracked != nil && !containsToken(controllers, a.token) {
			a.clear()
			return TransitionCleared
		}
		return TransitionNone
	}
	if a.tracked != nil && token == a.token {
		return TransitionNone
	}

	switched := a.tracked != nil
	if switched {
		a.clear()
	}
	if !a.track(match, token) {
		if switched {
			return TransitionCleared
		}
		return TransitionNone
	}
	if switched {
		return TransitionSwitched
	}
	return TransitionTracked
}

// Destroyed handles the tracked session ending.
func (a *Arbiter) Destroyed() Transition {
	if a.tracked == nil {
		return TransitionNone
	}
	a.clear()
	return TransitionCleared
}

// Reset drops tracking without reporting a transition. Used on stop.
func (a *Arbiter) Reset() {
	if a.tracked != nil {
		a.clear()
	}
}

func (a *Arbiter) track(c host.MediaController, token string) bool {
	cb := a.newCallback(token)
	_, err := host.Try("register callback", func() (struct{}, error) {
		return struct{}{}, c.RegisterCallback(cb)
	})
	if err != nil {
		slog.Warn("media session subscribe failed", "token", token, "error", err)
		return false
	}
	a.tracked = c
	a.token = token
	a.callback = cb
	slog.Debug("media session tracked", "package", a.preferred, "token", token)
	return true
}

func (a *Arbiter) clear() {
	c, cb := a.tracked, a.callback
	a.tracked = nil
	a.token = ""
	a.callback = nil
	_, err := host.Try("unregister callback", func() (struct{}, error) {
		c.UnregisterCallback(cb)
		return struct{}{}, nil
	})
	if err != nil {
		slog.Debug("media session unsubscribe failed", "error", err)
	}
}

func (a *Arbiter) findPreferred(controllers []host.MediaController) (host.MediaController, string) {
	for _, c := range controllers {
		if c == nil {
			continue
		}
		pkg, err := host.Try("package name", func() (string, error) { return c.PackageName(), nil })
		if err != nil || pkg != a.preferred {
			continue
		}
		token, err := host.Try("session token", func() (string, error) { return c.SessionToken(), nil })
		if err != nil || token == "" {
			continue
		}
		return c, token
	}
	return nil, ""
}

func containsToken(controllers []host.MediaController, token string) bool {
	for _, c := range controllers {
		if c == nil {
			continue
		}
		t, err := host.Try("session token", func() (string, error) { return c.SessionToken(), nil })
		if err == nil && t == token {
			return true
		}
	}
	return false
}
