package proxy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// State is a step of a forwarded call.
type State int

const (
	StateReceived State = iota
	StateForwarding
	StateStreaming
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateForwarding:
		return "forwarding"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateReceived:   {StateForwarding, StateFailed},
	StateForwarding: {StateStreaming, StateFailed, StateClosed},
	StateStreaming:  {StateClosed, StateFailed},
	StateFailed:     {StateClosed},
}

// call holds the state of one forwarded request. The caller's key is scoped
// to the call: close drops the call's copy, and strings returned by Secret
// are not retained past the adapter call that uses them.
type call struct {
	provider domain.ProviderID
	kind     string
	state    State
	secret   []byte
	outcome  string
	started  time.Time
	log      *slog.Logger
}

func newCall(kind string, provider domain.ProviderID, secret string, log *slog.Logger) *call {
	return &call{
		provider: provider,
		kind:     kind,
		state:    StateReceived,
		secret:   []byte(secret),
		outcome:  "ok",
		started:  time.Now(),
		log:      log.With("call", kind, "provider", provider),
	}
}

// advance moves the call to next, ignoring illegal transitions.
func (c *call) advance(next State) {
	for _, allowed := range transitions[c.state] {
		if allowed == next {
			c.log.Debug("call state", "from", c.state, "to", next)
			c.state = next
			return
		}
	}
	c.log.Error("illegal call state transition", "from", c.state, "to", next)
}

// Secret returns the caller's key for the upstream request.
func (c *call) Secret() string {
	return string(c.secret)
}

// fail moves the call to Failed and returns the error with the secret
// removed from its message.
func (c *call) fail(err error) *domain.APIError {
	apiErr := domain.Normalize(err)
	clean := *apiErr
	clean.Message = domain.Scrub(apiErr.Message, string(c.secret))
	clean.Cause = nil
	if clean.Type == domain.ErrorTypeTransport {
		// The proxy could not complete the upstream exchange.
		clean.Type = domain.ErrorTypeProxyForward
	}
	c.outcome = string(clean.Type)
	if c.state != StateFailed {
		c.advance(StateFailed)
	}
	return &clean
}

// close drops the call's copy of the secret and logs the outcome.
func (c *call) close() {
	for i := range c.secret {
		c.secret[i] = 0
	}
	c.secret = nil
	c.advance(StateClosed)
	c.log.Info("call closed", "outcome", c.outcome, "duration", time.Since(c.started))
}
