// Package query reads server info and player scores over the Steam A2S
// query protocol. It is a side channel to RCON: RCON does not report scores.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/rumblefrog/go-a2s"
)

const defaultTimeout = 3 * time.Second

// Player is one entry of an A2S_PLAYER reply
type Player struct {
	Name     string
	Score    int
	Duration time.Duration
}

// Result is a combined A2S_INFO and A2S_PLAYER reply
type Result struct {
	Name       string
	Map        string
	Players    []Player
	MaxPlayers int
	Latency    time.Duration
}

// ScoreByName indexes player scores by display name
func (r *Result) ScoreByName() map[string]int {
	scores := make(map[string]int, len(r.Players))
	for _, p := range r.Players {
		if p.Name != "" {
			scores[p.Name] = p.Score
		}
	}
	return scores
}

// Querier fetches A2S data for one address
type Querier interface {
	Query(ctx context.Context, address string) (*Result, error)
}

// A2SQuerier implements Querier with a fresh UDP client per query
type A2SQuerier struct {
	timeout time.Duration
}

// NewA2SQuerier returns a querier with the given per-request timeout
func NewA2SQuerier(timeout time.Duration) *A2SQuerier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &A2SQuerier{timeout: timeout}
}

// Query asks address for its server info and player list. The a2s client is
// not context aware, so ctx is only checked before each request.
func (q *A2SQuerier) Query(ctx context.Context, address string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := a2s.NewClient(address, a2s.TimeoutOption(q.timeout))
	if err != nil {
		return nil, fmt.Errorf("creating A2S client: %w", err)
	}
	defer client.Close()

	start := time.Now()
	info, err := client.QueryInfo()
	if err != nil {
		return nil, fmt.Errorf("querying info: %w", err)
	}
	res := &Result{
		Name:       info.Name,
		Map:        info.Map,
		MaxPlayers: int(info.MaxPlayers),
		Latency:    time.Since(start),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	players, err := client.QueryPlayer()
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	res.Players = make([]Player, 0, len(players.Players))
	for _, p := range players.Players {
		res.Players = append(res.Players, Player{
			Name:     p.Name,
			Score:    int(p.Score),
			Duration: time.Duration(p.Duration) * time.Second,
		})
	}
	return res, nil
}
