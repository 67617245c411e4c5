package rotation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1337))
}

func TestSelectNextWeightedFrequency(t *testing.T) {
	r := mustParse(t, `
maps:
  - name: Light
    weight: 1
  - name: Heavy
    weight: 3
`)
	e := NewEngine(r, seeded())

	const trials = 20000
	heavy := 0
	for range trials {
		name, err := e.SelectNext("", 50)
		require.NoError(t, err)
		if name == "Heavy" {
			heavy++
		}
	}
	assert.InDelta(t, 0.75, float64(heavy)/trials, 0.02)
}

func TestSelectNextRenormalizesOverCandidates(t *testing.T) {
	r := mustParse(t, `
maps:
  - name: A
    weight: 1
  - name: B
    weight: 3
  - name: C
    weight: 6
`)
	e := NewEngine(r, seeded())

	// C is current, so A and B split 1:3
	const trials = 20000
	b := 0
	for range trials {
		name, err := e.SelectNext("C", 50)
		require.NoError(t, err)
		require.NotEqual(t, "C", name)
		if name == "B" {
			b++
		}
	}
	assert.InDelta(t, 0.75, float64(b)/trials, 0.02)
}

func TestPlayersConditionExcludesBelowMinimum(t *testing.T) {
	r := mustParse(t, `
maps:
  - Seed Map
  - name: Big Map
    conditions:
      players: {min: 10}
`)
	e := NewEngine(r, seeded())

	for _, players := range []int{0, 5, 9} {
		for range 200 {
			name, err := e.SelectNext("", players)
			require.NoError(t, err)
			assert.Equal(t, "Seed Map", name, "players=%d", players)
		}
	}

	seen := false
	for range 200 {
		name, err := e.SelectNext("", 10)
		require.NoError(t, err)
		if name == "Big Map" {
			seen = true
		}
	}
	assert.True(t, seen)
}

func TestCooldownCountsMapChanges(t *testing.T) {
	r := mustParse(t, `
maps:
  - name: X
    conditions:
      cooldown: 3
  - A
  - B
  - C
  - D
`)
	e := NewEngine(r, seeded())

	_, _, err := e.MapChanged("X", "A", 50)
	require.NoError(t, err)
	for _, m := range []string{"A", "B", "C"} {
		_, _, err := e.MapChanged(m, "", 50)
		require.NoError(t, err)
		assert.True(t, e.CoolingDown("X"), "after %s", m)
		for _, c := range e.Candidates(m, 50) {
			assert.NotEqual(t, "X", c.Name)
		}
	}

	_, _, err = e.MapChanged("D", "", 50)
	require.NoError(t, err)
	assert.False(t, e.CoolingDown("X"))

	var names []string
	for _, c := range e.Candidates("D", 50) {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "X")
}

func TestDefaultMapCooldown(t *testing.T) {
	r := mustParse(t, "maps: [A, B, C]")
	e := NewEngine(r, seeded())

	_, _, err := e.MapChanged("A", "", 50)
	require.NoError(t, err)
	_, _, err = e.MapChanged("B", "", 50)
	require.NoError(t, err)
	assert.True(t, e.CoolingDown("A"))
	assert.Equal(t, map[string]int{"A": 0, "B": 1}, e.Cooldowns())

	_, _, err = e.MapChanged("C", "", 50)
	require.NoError(t, err)
	assert.False(t, e.CoolingDown("A"))
}

func TestNoSelection(t *testing.T) {
	r := mustParse(t, `
maps:
  - name: Only
    conditions:
      players: {min: 30}
`)
	e := NewEngine(r, seeded())

	_, err := e.SelectNext("", 10)
	assert.ErrorIs(t, err, ErrNoSelection)

	_, err = e.SelectNext("Only", 40)
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestValidateNext(t *testing.T) {
	r := mustParse(t, `
maps:
  - Seed Map
  - name: Big Map
    conditions:
      players: {min: 40}
`)
	e := NewEngine(r, seeded())

	next, changed, err := e.ValidateNext("Other", "Big Map", 60)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Big Map", next)

	// population dropped below the minimum
	next, changed, err = e.ValidateNext("Other", "Big Map", 12)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Seed Map", next)

	// maps outside the rotation are replaced
	next, changed, err = e.ValidateNext("Other", "Unknown Map", 12)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Seed Map", next)
}

func TestMapChangedRerollsWhenQueuedIsCurrent(t *testing.T) {
	r := mustParse(t, "maps: [A, B]")
	e := NewEngine(r, seeded())

	next, changed, err := e.MapChanged("A", "A", 50)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "B", next)
}
