package rotation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConditionKind tags the variant held by a Condition
type ConditionKind int

const (
	ConditionPlayers ConditionKind = iota
	ConditionTime
	ConditionCooldown
)

func (k ConditionKind) String() string {
	switch k {
	case ConditionPlayers:
		return "players"
	case ConditionTime:
		return "time"
	case ConditionCooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("ConditionKind(%d)", int(k))
	}
}

const (
	defaultMinPlayers = 0
	defaultMaxPlayers = 100
	minutesPerDay     = 24 * 60
)

// Condition restricts when a map may be selected.
//
// Players holds an inclusive player count range. Time holds an inclusive
// window in minutes after midnight in Location; a window whose Min is past its
// Max wraps around midnight. Cooldown holds a number of map changes and is
// applied by the Engine rather than by Validate.
type Condition struct {
	Kind     ConditionKind
	Min      int
	Max      int
	Location *time.Location
	Cooldown int
}

// Validate reports whether the condition holds for the given player count
// and wall clock time. Cooldown conditions always hold here.
func (c Condition) Validate(players int, now time.Time) bool {
	switch c.Kind {
	case ConditionPlayers:
		return players >= c.Min && players <= c.Max
	case ConditionTime:
		loc := c.Location
		if loc == nil {
			loc = time.UTC
		}
		t := now.In(loc)
		minute := t.Hour()*60 + t.Minute()
		if c.Min <= c.Max {
			return minute >= c.Min && minute <= c.Max
		}
		return minute >= c.Min || minute <= c.Max
	default:
		return true
	}
}

func (c Condition) String() string {
	switch c.Kind {
	case ConditionPlayers:
		return fmt.Sprintf("players %d-%d", c.Min, c.Max)
	case ConditionTime:
		loc := "UTC"
		if c.Location != nil {
			loc = c.Location.String()
		}
		return fmt.Sprintf("time %s-%s %s", formatClock(c.Min), formatClock(c.Max), loc)
	case ConditionCooldown:
		return fmt.Sprintf("cooldown %d", c.Cooldown)
	default:
		return c.Kind.String()
	}
}

// parseClock reads "H:MM" into minutes after midnight; "24:00" is allowed
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, expected H:MM", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected H:MM", s)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected H:MM", s)
	}
	total := hours*60 + minutes
	if hours < 0 || minutes < 0 || minutes > 59 || total > minutesPerDay {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return total, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}
