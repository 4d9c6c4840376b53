package oauth

import (
	"sync"
	"time"
)

const pendingFlowTTL = 10 * time.Minute

// pendingFlow is the server-side state an in-flight authorization-code
// exchange needs to survive the round trip to the provider and back:
// the PKCE verifier, the token endpoint, and which credential started it.
type pendingFlow struct {
	CredentialID string
	Verifier     string
	TokenURL     string
	RedirectURI  string
	CreatedAt    time.Time
}

func (f pendingFlow) expired(now time.Time) bool {
	return now.Sub(f.CreatedAt) > pendingFlowTTL
}

// pendingFlows is an in-memory, state-keyed map of authorization-code
// flows that have been started but not yet completed. It is
// process-local by design: the admin console and the control plane run
// in the same process, so a flow never needs to survive a restart.
type pendingFlows struct {
	mu    sync.Mutex
	flows map[string]pendingFlow
}

func newPendingFlows() *pendingFlows {
	return &pendingFlows{flows: make(map[string]pendingFlow)}
}

func (p *pendingFlows) put(state string, f pendingFlow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	p.flows[state] = f
}

// take returns and removes the pending flow for state, so a state value
// can only ever be consumed once.
func (p *pendingFlows) take(state string) (pendingFlow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	f, ok := p.flows[state]
	if !ok {
		return pendingFlow{}, false
	}
	delete(p.flows, state)
	if f.expired(time.Now()) {
		return pendingFlow{}, false
	}
	return f, true
}

func (p *pendingFlows) sweepLocked() {
	now := time.Now()
	for state, f := range p.flows {
		if f.expired(now) {
			delete(p.flows, state)
		}
	}
}
