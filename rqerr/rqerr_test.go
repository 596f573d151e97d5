package rqerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "build-time", BuildTime.String())
	assert.Equal(t, "plan-time", PlanTime.String())
	assert.Equal(t, "runtime-recoverable", RuntimeRecoverable.String())
	assert.Equal(t, "runtime-fatal", RuntimeFatal.String())
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := Runtime("duplicate key %q", "isbn:1")
	assert.True(t, Recoverable(err))
	assert.False(t, Fatal(err))

	wrapped := fmt.Errorf("scanning source: %w", err)
	assert.True(t, Recoverable(wrapped))
}

func TestFatalDoesNotMatchRecoverable(t *testing.T) {
	err := Fatalf("predicate panicked: %s", "divide by zero")
	assert.True(t, Fatal(err))
	assert.False(t, Recoverable(err))
}

func TestWrapPreservesKindAndMessage(t *testing.T) {
	base := fmt.Errorf("badger: key not found")
	err := Wrap(RuntimeRecoverable, base, "looking up primary key")
	assert.True(t, Recoverable(err))
	assert.Contains(t, err.Error(), "looking up primary key")
	assert.Contains(t, err.Error(), "key not found")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(BuildTime, nil, "anything"))
}

func TestBuildAndPlanConstructors(t *testing.T) {
	assert.True(t, Is(Build("unknown alias %q", "x"), BuildTime))
	assert.True(t, Is(Plan("unassigned term for %q", "y"), PlanTime))
}
