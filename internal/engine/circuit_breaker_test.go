package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(threshold, cooldown)
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_UnknownHostIsAllowed(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)
	assert.True(t, cb.Allow("hooks-a.example.com"))
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb, _ := frozenBreaker(5, time.Minute)
	host := "hooks-a.example.com"

	for i := 0; i < 4; i++ {
		cb.RecordFailure(host, false)
		require.True(t, cb.Allow(host), "should stay closed below the threshold")
	}

	cb.RecordFailure(host, false)
	assert.False(t, cb.Allow(host))
}

func TestCircuitBreaker_TimeoutsTripSooner(t *testing.T) {
	cb, _ := frozenBreaker(5, time.Minute)
	host := "hooks-a.example.com"

	// Three timeouts score 6, past the threshold of 5; three fast failures
	// would only score 3.
	for i := 0; i < 3; i++ {
		cb.RecordFailure(host, true)
	}
	assert.False(t, cb.Allow(host))

	other := "hooks-b.other.com"
	for i := 0; i < 3; i++ {
		cb.RecordFailure(other, false)
	}
	assert.True(t, cb.Allow(other))
}

func TestCircuitBreaker_BlockedDuringCooldown(t *testing.T) {
	cb, now := frozenBreaker(3, 5*time.Minute)
	host := "hooks-a.example.com"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(host, false)
	}

	*now = now.Add(2 * time.Minute)
	assert.False(t, cb.Allow(host))
	assert.False(t, cb.Allow(host), "repeated checks inside the cooldown stay blocked")
}

func TestCircuitBreaker_SingleProbeAfterCooldown(t *testing.T) {
	cb, now := frozenBreaker(3, 5*time.Minute)
	host := "hooks-a.example.com"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(host, false)
	}

	*now = now.Add(5 * time.Minute)
	assert.True(t, cb.Allow(host), "first attempt after the cooldown is the probe")
	assert.False(t, cb.Allow(host), "only one probe may be in flight")
	assert.False(t, cb.Allow(host))
}

func TestCircuitBreaker_ProbeSuccessClosesAndForgets(t *testing.T) {
	cb, now := frozenBreaker(3, 5*time.Minute)
	host := "hooks-a.example.com"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(host, false)
	}
	*now = now.Add(5 * time.Minute)
	require.True(t, cb.Allow(host))

	cb.RecordSuccess(host)
	assert.True(t, cb.Allow(host))

	// History is gone: it takes a full threshold of fresh failures to trip
	// again, not just one.
	cb.RecordFailure(host, false)
	assert.True(t, cb.Allow(host))
}

func TestCircuitBreaker_ProbeFailureReopensForAnotherCooldown(t *testing.T) {
	cb, now := frozenBreaker(3, 5*time.Minute)
	host := "hooks-a.example.com"

	for i := 0; i < 3; i++ {
		cb.RecordFailure(host, false)
	}
	*now = now.Add(5 * time.Minute)
	require.True(t, cb.Allow(host))

	cb.RecordFailure(host, false)
	assert.False(t, cb.Allow(host), "failed probe re-opens the circuit")

	*now = now.Add(4 * time.Minute)
	assert.False(t, cb.Allow(host), "the re-opened cooldown starts from the probe failure")

	*now = now.Add(time.Minute)
	assert.True(t, cb.Allow(host), "next probe is granted once the new cooldown elapses")
}

func TestCircuitBreaker_SuccessResetsFailureScore(t *testing.T) {
	cb, _ := frozenBreaker(5, time.Minute)
	host := "hooks-a.example.com"

	for i := 0; i < 4; i++ {
		cb.RecordFailure(host, false)
	}
	cb.RecordSuccess(host)

	for i := 0; i < 4; i++ {
		cb.RecordFailure(host, false)
	}
	assert.True(t, cb.Allow(host), "score restarts from zero after a success")
}

func TestCircuitBreaker_HostsAreIndependent(t *testing.T) {
	cb, _ := frozenBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("hooks-a.example.com", false)
	}
	assert.False(t, cb.Allow("hooks-a.example.com"))
	assert.True(t, cb.Allow("hooks-b.other.com"))
}
