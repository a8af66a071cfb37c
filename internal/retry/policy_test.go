package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

func TestNewPolicy_OverridesAndClamps(t *testing.T) {
	p := NewPolicy(ModeFixed, 5*time.Second, 2*time.Second, 5)
	require.Equal(t, Policy{Mode: ModeFixed, Initial: 2 * time.Second, Max: 2 * time.Second, MaxRetries: 5}, p)

	p = NewPolicy("weird", 0, 0, -1)
	require.Equal(t, DefaultPolicy(), p)
}

func TestDelay(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		name string
		p    Policy
		want []time.Duration // retries 0..4
	}{
		{"fixed", NewPolicy(ModeFixed, 100*ms, 500*ms, 3), []time.Duration{0, 100 * ms, 100 * ms, 100 * ms, 100 * ms}},
		{"linear", NewPolicy(ModeLinear, 100*ms, 250*ms, 3), []time.Duration{0, 100 * ms, 200 * ms, 250 * ms, 250 * ms}},
		{"exponential", NewPolicy(ModeExponential, 50*ms, 160*ms, 3), []time.Duration{0, 50 * ms, 100 * ms, 160 * ms, 160 * ms}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for n, want := range tt.want {
				require.Equal(t, want, tt.p.Delay(n), "retry %d", n)
			}
			require.Zero(t, tt.p.Delay(-1))
		})
	}
	require.Equal(t, time.Second, NewPolicy(ModeExponential, ms, time.Second, 1).Delay(200))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	for _, p := range []Policy{
		{Initial: 0, Max: time.Second},
		{Initial: time.Second, Max: 0},
		{Initial: time.Second, Max: time.Second, MaxRetries: -1},
	} {
		err := p.Validate()
		require.Error(t, err)
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	}
}

func TestDo(t *testing.T) {
	p := NewPolicy(ModeFixed, time.Millisecond, time.Millisecond, 2)
	transient := ferrors.NetworkError("flaky").Retryable().Build()

	calls := 0
	err := Do(t.Context(), p, func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = Do(t.Context(), p, func() error { calls++; return transient })
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("permanent")
	err = Do(t.Context(), p, func() error { calls++; return permanent })
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	calls = 0
	err = Do(ctx, NewPolicy(ModeFixed, time.Hour, time.Hour, 5), func() error { calls++; return transient })
	require.ErrorIs(t, err, transient)
	require.Equal(t, 1, calls)
}
