package engine

import (
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = time.Minute

	// timeoutWeight makes timing-out hosts trip the breaker sooner than
	// fast failures: a refused connection costs milliseconds, but a timeout
	// holds a delivery goroutine for the subscription's whole adaptive
	// deliveryTimeoutMs, which can be minutes.
	timeoutWeight = 2
)

// CircuitBreaker gates webhook delivery attempts per endpoint host. A
// subscription whose endpoint is hard-down still matches every new inbound
// message, so without a gate each message burns a full delivery timeout
// against the dead host; the breaker lets the fan-out loop skip those
// attempts until the host shows signs of life again.
//
// The breaker never touches WebhookSubscription.Status: a gated host is a
// transport-level condition, not a suspension. Skipped attempts are not
// recorded as failures on the subscription row.
type CircuitBreaker struct {
	mu               sync.Mutex
	hosts            map[string]*hostState
	failureThreshold int
	cooldown         time.Duration
	nowFunc          func() time.Time
}

type hostState struct {
	// failureScore accumulates weighted consecutive failures: timeoutWeight
	// per timeout, 1 per anything else. Reset on any success.
	failureScore  int
	open          bool
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a CircuitBreaker. Zero values for
// failureThreshold or cooldown are replaced with the defaults
// (5 points, 1 minute).
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	return &CircuitBreaker{
		hosts:            make(map[string]*hostState),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		nowFunc:          time.Now,
	}
}

// Allow reports whether a delivery attempt against host may proceed. An
// unknown or closed host is always allowed. An open host is blocked until
// the cooldown has elapsed, after which exactly one attempt is let through
// as a probe; concurrent attempts stay blocked until that probe reports
// back via RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow(host string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	hs, ok := cb.hosts[host]
	if !ok || !hs.open {
		return true
	}
	if cb.nowFunc().Sub(hs.openedAt) < cb.cooldown {
		return false
	}
	if hs.probeInFlight {
		return false
	}
	hs.probeInFlight = true
	return true
}

// RecordSuccess closes the circuit for host and forgets its failure
// history, so a recovered host starts from a clean slate.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.hosts, host)
}

// RecordFailure scores one failed delivery against host; timedOut failures
// weigh timeoutWeight. The circuit opens once the score reaches the
// threshold. A failed post-cooldown probe re-opens the circuit for another
// full cooldown.
func (cb *CircuitBreaker) RecordFailure(host string, timedOut bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	hs, ok := cb.hosts[host]
	if !ok {
		hs = &hostState{}
		cb.hosts[host] = hs
	}

	weight := 1
	if timedOut {
		weight = timeoutWeight
	}
	hs.failureScore += weight

	if hs.probeInFlight {
		hs.probeInFlight = false
		hs.openedAt = cb.nowFunc()
		return
	}
	if !hs.open && hs.failureScore >= cb.failureThreshold {
		hs.open = true
		hs.openedAt = cb.nowFunc()
	}
}
