package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         5 * time.Millisecond,
		Multiplier:        2,
		RateLimitedBase:   10 * time.Millisecond,
		RateLimitedFactor: 3,
	}
}

func noJitter(e *Executor) *Executor {
	e.jitter = func(time.Duration) time.Duration { return 0 }
	return e
}

func TestExecuteRetryCeiling(t *testing.T) {
	exec := noJitter(NewExecutor("ucsc", testPolicy(), nil, nil, nil))

	calls := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return StatusError("ucsc", http.StatusServiceUnavailable, nil, "down")
	})
	require.Equal(t, 3, calls)

	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ClassTransient, ue.Class)
	require.Equal(t, 3, ue.Attempts)
}

func TestExecuteFatalShortCircuit(t *testing.T) {
	exec := noJitter(NewExecutor("ncbi", testPolicy(), nil, nil, nil))

	calls := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return StatusError("ncbi", http.StatusNotFound, nil, "no such gene")
	})
	require.Equal(t, 1, calls)

	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ClassFatal, ue.Class)
	require.Equal(t, 1, ue.Attempts)
}

func TestExecuteRateLimitedScheduleThenSuccess(t *testing.T) {
	exec := noJitter(NewExecutor("ncbi", testPolicy(), nil, nil, nil))

	calls := 0
	start := time.Now()
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return StatusError("ncbi", http.StatusTooManyRequests, nil, "slow down")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	// Two rate-limited delays: 10ms*3^0 + 10ms*3^1 = 40ms.
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestExecuteGenericScheduleDoubles(t *testing.T) {
	exec := noJitter(NewExecutor("ucsc", testPolicy(), nil, nil, nil))

	calls := 0
	start := time.Now()
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return NetworkError("ucsc", errors.New("connection reset"))
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)

	// Two generic delays: 5ms*2^0 + 5ms*2^1 = 15ms.
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestExecuteHonorsRetryAfterHint(t *testing.T) {
	exec := noJitter(NewExecutor("ncbi", testPolicy(), nil, nil, nil))

	header := http.Header{}
	header.Set("Retry-After", "1")

	calls := 0
	start := time.Now()
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return StatusError("ncbi", http.StatusTooManyRequests, header, "quota spent")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	// The 1s hint overrides the computed 10ms first delay.
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestExecuteStopsSleepingOnCancel(t *testing.T) {
	policy := testPolicy()
	policy.BaseDelay = time.Hour
	exec := noJitter(NewExecutor("ucsc", policy, nil, nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	start := time.Now()
	err := exec.Execute(ctx, func(context.Context) error {
		calls++
		return NetworkError("ucsc", errors.New("timeout"))
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Less(t, time.Since(start), time.Hour)
}
