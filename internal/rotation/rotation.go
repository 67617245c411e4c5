// Package rotation implements weighted, conditional map rotations.
//
// A rotation document has a top-level map_cooldown and a nested maps list.
// Each element of a list is a bare map name, a nested list (an implicit
// sub-pool with weight 1), or an object with either name or pool plus an
// optional weight and conditions:
//
//	map_cooldown: 2
//	maps:
//	  - Gorodok AAS v2
//	  - name: Narva RAAS v1
//	    weight: 3
//	    conditions:
//	      players: {min: 40}
//	  - pool: [Fallujah Invasion v1, Mutaha AAS v1]
//	    conditions:
//	      time: {min: "18:00", max: "23:59", timezone: Europe/Brussels}
//	      cooldown: 4
//
// JSON documents are accepted as well.
package rotation

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMapCooldown is used when a document does not set map_cooldown
const DefaultMapCooldown = 1

// Error is a malformed rotation document or an invalid condition
type Error struct {
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Path == "" {
		return "rotation: " + msg
	}
	return fmt.Sprintf("rotation: %s: %s", e.Path, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Node is a Map or a Pool
type Node interface {
	flatten(cooldown int) []Entry
}

// Map is a leaf of the rotation tree
type Map struct {
	Name       string
	Weight     float64
	Conditions []Condition
}

// Pool groups nodes that share a weight share and conditions
type Pool struct {
	Weight     float64
	Conditions []Condition
	Children   []Node
}

// Entry is a flattened map with its effective weight, conditions and cooldown
type Entry struct {
	Name       string
	Weight     float64
	Conditions []Condition
	Cooldown   int // map changes
}

// Validate checks every non-cooldown condition
func (e Entry) Validate(players int, now time.Time) bool {
	for _, c := range e.Conditions {
		if !c.Validate(players, now) {
			return false
		}
	}
	return true
}

func (m *Map) flatten(cooldown int) []Entry {
	if cd, ok := cooldownOf(m.Conditions); ok {
		cooldown = cd
	}
	return []Entry{{
		Name:       m.Name,
		Weight:     m.Weight,
		Conditions: slices.Clone(m.Conditions),
		Cooldown:   cooldown,
	}}
}

// flatten returns the pool's leaves with weights normalized so that they sum
// to the pool's own weight, and the pool's conditions appended.
func (p *Pool) flatten(cooldown int) []Entry {
	if cd, ok := cooldownOf(p.Conditions); ok {
		cooldown = cd
	}

	var entries []Entry
	for _, child := range p.Children {
		entries = append(entries, child.flatten(cooldown)...)
	}

	var total float64
	for _, e := range entries {
		total += e.Weight
	}
	for i := range entries {
		if total > 0 {
			entries[i].Weight *= p.Weight / total
		}
		entries[i].Conditions = append(entries[i].Conditions, p.Conditions...)
	}
	return entries
}

func cooldownOf(conds []Condition) (int, bool) {
	for _, c := range conds {
		if c.Kind == ConditionCooldown {
			return c.Cooldown, true
		}
	}
	return 0, false
}

// Rotation is a parsed rotation document
type Rotation struct {
	MapCooldown int
	Root        *Pool
}

// Entries flattens the tree. Leaves without a cooldown of their own or from an
// ancestor get MapCooldown.
func (r *Rotation) Entries() []Entry {
	return r.Root.flatten(r.MapCooldown)
}

// Names lists the distinct map names in document order
func (r *Rotation) Names() []string {
	var names []string
	for _, e := range r.Entries() {
		if !slices.Contains(names, e.Name) {
			names = append(names, e.Name)
		}
	}
	return names
}

// Parse reads a YAML or JSON rotation document
func Parse(data []byte) (*Rotation, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Msg: "invalid document", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &Error{Msg: "empty document"}
	}
	root := resolve(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, &Error{Msg: "document must be an object with a maps list"}
	}

	r := &Rotation{MapCooldown: DefaultMapCooldown}
	var maps *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, resolve(root.Content[i+1])
		switch key {
		case "map_cooldown":
			n, err := strconv.Atoi(value.Value)
			if err != nil || value.Kind != yaml.ScalarNode {
				return nil, &Error{Path: "map_cooldown", Msg: "must be an integer"}
			}
			if n > 0 {
				r.MapCooldown = n
			}
		case "maps":
			maps = value
		}
	}
	if maps == nil {
		return nil, &Error{Msg: "missing maps"}
	}

	children, err := parseList(maps, "maps")
	if err != nil {
		return nil, err
	}
	r.Root = &Pool{Weight: 1, Children: children}
	return r, nil
}

func parseList(list *yaml.Node, path string) ([]Node, error) {
	if list.Kind != yaml.SequenceNode {
		return nil, &Error{Path: path, Msg: "must be a list"}
	}
	if len(list.Content) == 0 {
		return nil, &Error{Path: path, Msg: "pool has no maps"}
	}

	nodes := make([]Node, 0, len(list.Content))
	for i, item := range list.Content {
		item = resolve(item)
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		switch item.Kind {
		case yaml.ScalarNode:
			name := strings.TrimSpace(item.Value)
			if name == "" {
				return nil, &Error{Path: itemPath, Msg: "empty map name"}
			}
			nodes = append(nodes, &Map{Name: name, Weight: 1})
		case yaml.SequenceNode:
			children, err := parseList(item, itemPath)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Pool{Weight: 1, Children: children})
		case yaml.MappingNode:
			n, err := parseObject(item, itemPath)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		default:
			return nil, &Error{Path: itemPath, Msg: "unexpected entry"}
		}
	}
	return nodes, nil
}

func parseObject(obj *yaml.Node, path string) (Node, error) {
	var (
		name       string
		pool       *yaml.Node
		weight     = 1.0
		conditions []Condition
		hasName    bool
	)
	for i := 0; i+1 < len(obj.Content); i += 2 {
		key, value := obj.Content[i].Value, resolve(obj.Content[i+1])
		switch key {
		case "name":
			name = strings.TrimSpace(value.Value)
			hasName = true
		case "pool":
			pool = value
		case "weight":
			w, err := strconv.ParseFloat(value.Value, 64)
			if err != nil || value.Kind != yaml.ScalarNode {
				return nil, &Error{Path: path + ".weight", Msg: "must be a number"}
			}
			if w > 0 {
				weight = w
			}
		case "conditions":
			var err error
			if conditions, err = parseConditions(value, path+".conditions"); err != nil {
				return nil, err
			}
		default:
			return nil, &Error{Path: path, Msg: fmt.Sprintf("unknown key %q", key)}
		}
	}

	switch {
	case hasName && pool != nil:
		return nil, &Error{Path: path, Msg: "entry has both name and pool"}
	case hasName:
		if name == "" {
			return nil, &Error{Path: path + ".name", Msg: "empty map name"}
		}
		return &Map{Name: name, Weight: weight, Conditions: conditions}, nil
	case pool != nil:
		children, err := parseList(pool, path+".pool")
		if err != nil {
			return nil, err
		}
		return &Pool{Weight: weight, Conditions: conditions, Children: children}, nil
	default:
		return nil, &Error{Path: path, Msg: "entry needs a name or a pool"}
	}
}

func parseConditions(node *yaml.Node, path string) ([]Condition, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &Error{Path: path, Msg: "must be an object"}
	}

	var conds []Condition
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, resolve(node.Content[i+1])
		condPath := path + "." + key
		switch key {
		case "players":
			c := Condition{Kind: ConditionPlayers, Min: defaultMinPlayers, Max: defaultMaxPlayers}
			fields, err := scalarFields(value, condPath)
			if err != nil {
				return nil, err
			}
			for k, v := range fields {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return nil, &Error{Path: condPath + "." + k, Msg: "must be a non-negative integer"}
				}
				switch k {
				case "min":
					c.Min = n
				case "max":
					c.Max = n
				default:
					return nil, &Error{Path: condPath, Msg: fmt.Sprintf("unknown key %q", k)}
				}
			}
			if c.Min > c.Max {
				return nil, &Error{Path: condPath, Msg: fmt.Sprintf("min %d is above max %d", c.Min, c.Max)}
			}
			conds = append(conds, c)

		case "time":
			c := Condition{Kind: ConditionTime, Min: 0, Max: minutesPerDay, Location: time.UTC}
			fields, err := scalarFields(value, condPath)
			if err != nil {
				return nil, err
			}
			for k, v := range fields {
				switch k {
				case "min", "max":
					minutes, err := parseClock(v)
					if err != nil {
						return nil, &Error{Path: condPath + "." + k, Msg: "invalid time", Err: err}
					}
					if k == "min" {
						c.Min = minutes
					} else {
						c.Max = minutes
					}
				case "timezone":
					if v == "" {
						continue
					}
					loc, err := time.LoadLocation(v)
					if err != nil {
						return nil, &Error{Path: condPath + ".timezone", Msg: fmt.Sprintf("unknown timezone %q", v)}
					}
					c.Location = loc
				default:
					return nil, &Error{Path: condPath, Msg: fmt.Sprintf("unknown key %q", k)}
				}
			}
			conds = append(conds, c)

		case "cooldown":
			n, err := strconv.Atoi(value.Value)
			if err != nil || n < 0 || value.Kind != yaml.ScalarNode {
				return nil, &Error{Path: condPath, Msg: "must be a non-negative integer"}
			}
			conds = append(conds, Condition{Kind: ConditionCooldown, Cooldown: n})

		default:
			return nil, &Error{Path: condPath, Msg: "invalid condition"}
		}
	}
	return conds, nil
}

// scalarFields reads a flat object of scalar values
func scalarFields(node *yaml.Node, path string) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &Error{Path: path, Msg: "must be an object"}
	}
	fields := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		value := resolve(node.Content[i+1])
		if value.Kind != yaml.ScalarNode {
			return nil, &Error{Path: path + "." + node.Content[i].Value, Msg: "must be a single value"}
		}
		fields[node.Content[i].Value] = strings.TrimSpace(value.Value)
	}
	return fields, nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}
