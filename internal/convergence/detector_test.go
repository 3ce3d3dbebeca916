package convergence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetector_IdleCounterIncrementsOnRepeatedCounts(t *testing.T) {
	t.Parallel()

	d := NewDetector(3, 0)
	d.Observe(10)
	require.Equal(t, 0, d.Idle())
	d.Observe(10)
	require.Equal(t, 1, d.Idle())
	d.Observe(10)
	require.Equal(t, 2, d.Idle())
}

func TestDetector_IdleCounterResetsOnProgress(t *testing.T) {
	t.Parallel()

	d := NewDetector(3, 0)
	d.Observe(10)
	d.Observe(10)
	d.Observe(14)
	require.Equal(t, 0, d.Idle())
}

func TestDetector_ConvergedRequiresIdleAndNoScrollLeft(t *testing.T) {
	t.Parallel()

	d := NewDetector(3, 0)
	for i := 0; i < 4; i++ {
		d.Observe(7)
	}
	require.Equal(t, 3, d.Idle())

	require.False(t, d.Converged(false), "scroll distance remains")
	require.True(t, d.Converged(true))
}

func TestDetector_FirstRoundNeverIdle(t *testing.T) {
	t.Parallel()

	d := NewDetector(1, 0)
	d.Observe(0)
	require.Equal(t, 0, d.Idle())
	require.False(t, d.Converged(true))
}

func TestDetector_Exhausted(t *testing.T) {
	t.Parallel()

	d := NewDetector(3, 2)
	require.False(t, d.Exhausted())
	d.Observe(1)
	d.Observe(2)
	require.True(t, d.Exhausted())
}
