package walker_test

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// §8 boundary behaviors: constructs that never enter their body, or whose
// body never matches, report $status==0 regardless of whatever $status was
// set to beforehand.

func TestForLoopZeroExpansionsLeavesStatusZero(t *testing.T) {
	w := newTestWalker(t)

	_, status := run(t, w, "false\nfor v in\necho should-not-run\nend")

	require.Equal(t, 0, status)
}

func TestWhileLoopFailingFirstConditionLeavesStatusZero(t *testing.T) {
	w := newTestWalker(t)

	_, status := run(t, w, "false\nwhile false\necho should-not-run\nend")

	require.Equal(t, 0, status)
}

func TestSwitchNoMatchingCaseLeavesStatusZero(t *testing.T) {
	w := newTestWalker(t)

	_, status := run(t, w, "false\nswitch x\ncase y\necho should-not-run\nend")

	require.Equal(t, 0, status)
}

func TestIfNoBranchMatchedAndNoElseLeavesStatusZero(t *testing.T) {
	w := newTestWalker(t)

	_, status := run(t, w, "false\nif false\necho should-not-run\nend")

	require.Equal(t, 0, status)
}
