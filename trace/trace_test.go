package trace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseContextRunsFnAndReportsNilCollector(t *testing.T) {
	c := NewContext(nil)
	ran := false
	err := c.ExecutePhase("scan", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Nil(t, c.Collector())
}

func TestAnnotatedContextCollectsPhaseEvents(t *testing.T) {
	var events []Event
	c := NewContext(func(e Event) { events = append(events, e) })

	c.FinalizeBegin("q1")
	err := c.ExecutePhase("scan:people", func() error { return nil })
	require.NoError(t, err)
	c.FinalizeComplete(nil)

	require.NotNil(t, c.Collector())
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	assert.Equal(t, []string{FinalizeBegin, PhaseBegin, PhaseComplete, FinalizeComplete}, names)
}

func TestAnnotatedContextRecordsPhaseError(t *testing.T) {
	boom := errors.New("boom")
	c := NewContext(func(Event) {})

	err := c.ExecutePhase("scan:people", func() error { return boom })
	assert.Equal(t, boom, err)

	var last Event
	for _, e := range c.Collector().Events() {
		if e.Name == PhaseComplete {
			last = e
		}
	}
	assert.Equal(t, false, last.Data["success"])
	assert.Equal(t, "boom", last.Data["error"])
}

func TestCollectorResetClearsEvents(t *testing.T) {
	c := NewCollector(func(Event) {})
	c.Add(Event{Name: "x"})
	require.Len(t, c.Events(), 1)
	c.Reset()
	assert.Empty(t, c.Events())
}

func TestMetadataRoundTrips(t *testing.T) {
	c := NewContext(nil)
	_, ok := c.GetMetadata("k")
	assert.False(t, ok)
	c.SetMetadata("k", 42)
	v, ok := c.GetMetadata("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}
