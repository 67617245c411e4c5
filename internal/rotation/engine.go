package rotation

import (
	"errors"
	"maps"
	"math/rand/v2"
	"time"
)

// ErrNoSelection means every entry was filtered out
var ErrNoSelection = errors.New("rotation: no eligible map")

// Engine draws next maps from a Rotation and tracks cooldowns. Cooldowns are
// counted in map changes: a map with cooldown N stays excluded for the N map
// changes that follow its own. An Engine is owned by a single poller and is
// not safe for concurrent use.
type Engine struct {
	rotation  *Rotation
	entries   []Entry
	cooldowns map[string]int
	rng       *rand.Rand
	now       func() time.Time
}

// NewEngine returns an engine for r. A nil rng draws from a randomly seeded source.
func NewEngine(r *Rotation, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		rotation:  r,
		entries:   r.Entries(),
		cooldowns: make(map[string]int),
		rng:       rng,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used by time conditions
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Rotation returns the definition the engine draws from
func (e *Engine) Rotation() *Rotation {
	return e.rotation
}

// Cooldowns returns a copy of the remaining cooldown per map
func (e *Engine) Cooldowns() map[string]int {
	return maps.Clone(e.cooldowns)
}

// CoolingDown reports whether name is excluded by its cooldown
func (e *Engine) CoolingDown(name string) bool {
	_, ok := e.cooldowns[name]
	return ok
}

// Candidates returns the entries that may follow current
func (e *Engine) Candidates(current string, players int) []Entry {
	now := e.now()
	var out []Entry
	for _, entry := range e.entries {
		if entry.Name == current || e.CoolingDown(entry.Name) {
			continue
		}
		if !entry.Validate(players, now) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// SelectNext draws the next map with probability proportional to weight among
// the candidates. It returns ErrNoSelection when none survive filtering.
func (e *Engine) SelectNext(current string, players int) (string, error) {
	candidates := e.Candidates(current, players)
	if len(candidates) == 0 {
		return "", ErrNoSelection
	}

	var total float64
	for _, c := range candidates {
		total += c.Weight
	}
	draw := e.rng.Float64() * total
	for _, c := range candidates {
		draw -= c.Weight
		if draw < 0 {
			return c.Name, nil
		}
	}
	return candidates[len(candidates)-1].Name, nil
}

// MapChanged decays every cooldown by one map change and starts the cooldown
// of newMap. A map with cooldown N stays cooling through the N changes after
// its own and is dropped on change N+1. If queued is no longer a valid
// follow-up it returns a replacement and true.
func (e *Engine) MapChanged(newMap, queued string, players int) (string, bool, error) {
	for name, left := range e.cooldowns {
		if left <= 0 {
			delete(e.cooldowns, name)
		} else {
			e.cooldowns[name] = left - 1
		}
	}
	if cd, ok := e.cooldownFor(newMap); ok {
		e.cooldowns[newMap] = cd
	}
	return e.ValidateNext(newMap, queued, players)
}

// ValidateNext checks the queued next map against the rotation. It returns a
// freshly drawn map and true when queued is not in the rotation, is cooling
// down, equals current, or fails its conditions.
func (e *Engine) ValidateNext(current, queued string, players int) (string, bool, error) {
	if e.valid(current, queued, players) {
		return queued, false, nil
	}
	next, err := e.SelectNext(current, players)
	if err != nil {
		return "", false, err
	}
	return next, next != queued, nil
}

func (e *Engine) valid(current, name string, players int) bool {
	if name == "" || name == current || e.CoolingDown(name) {
		return false
	}
	now := e.now()
	for _, entry := range e.entries {
		if entry.Name == name && entry.Validate(players, now) {
			return true
		}
	}
	return false
}

func (e *Engine) cooldownFor(name string) (int, bool) {
	for _, entry := range e.entries {
		if entry.Name == name {
			return entry.Cooldown, true
		}
	}
	return 0, false
}
