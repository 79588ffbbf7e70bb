package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSystem_Defaults(t *testing.T) {
	sys := NewSystem(Config{Cores: 2})
	assert.Len(t, sys.Cores(), 2)
	for i, c := range sys.Cores() {
		assert.Equal(t, i, c.ID())
		assert.True(t, c.Online())
	}
	assert.Equal(t, DefaultGroupRuntime, sys.RootGroup().Runtime())
	assert.Equal(t, DefaultGroupPeriod, sys.RootGroup().Period())
	assert.Equal(t, int64(0), sys.Clock().Now())
}

func TestNewSystem_ClampsCoreCount(t *testing.T) {
	assert.Len(t, NewSystem(Config{}).Cores(), 1)
	assert.Len(t, NewSystem(Config{Cores: 100}).Cores(), 64)
}

func TestNewEntity_Defaults(t *testing.T) {
	sys := NewSystem(Config{Cores: 2})
	a := sys.NewEntity("a")
	b := sys.NewEntity("b")
	assert.Equal(t, PolicyOther, a.Policy())
	assert.Equal(t, NumPriorities-1, a.Prio())
	assert.Equal(t, MaskAll(2), a.Allowed())
	assert.True(t, a.Migratable())
	assert.False(t, a.Runnable())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDefaultPeriodBounds_FieldEquivalence(t *testing.T) {
	got := DefaultPeriodBounds()
	want := PeriodBounds{Min: DefaultPeriodMin, Max: DefaultPeriodMax}
	assert.Equal(t, want, got)
}
