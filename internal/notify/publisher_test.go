package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

type chanSource struct {
	ch chan domain.Event
}

func (s *chanSource) Subscribe() (<-chan domain.Event, func()) {
	return s.ch, func() {}
}

func TestSubject(t *testing.T) {
	p := New(nil, "", nil)
	assert.Equal(t, "warden.3.chat_trigger", p.Subject(domain.Event{ServerID: 3, Type: domain.EventChatTrigger}))

	p = New(nil, "prod.squad", nil)
	assert.Equal(t, "prod.squad.12.map_change", p.Subject(domain.Event{ServerID: 12, Type: domain.EventMapChange}))
}

func TestRunPublishesEvents(t *testing.T) {
	ns := runServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs, err := sub.SubscribeSync("warden.>")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := Connect(ns.ClientURL(), "", nil)
	require.NoError(t, err)
	defer pub.Close()

	src := &chanSource{ch: make(chan domain.Event, 2)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pub.Run(ctx, src)
		close(done)
	}()

	src.ch <- domain.Event{
		ID:       "e1",
		Type:     domain.EventChatTrigger,
		ServerID: 7,
		Data: domain.ChatTriggerEvent{
			ChatEvent: domain.ChatEvent{Channel: "All", SteamID: 76561198000000001, Name: "Alpha", Message: "!admin help"},
			Trigger:   "!admin",
			Mentions:  "@here",
		},
	}

	msg, err := msgs.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "warden.7.chat_trigger", msg.Subject)

	var got struct {
		ID       string `json:"id"`
		Event    string `json:"event"`
		ServerID int64  `json:"server_id"`
		Data     struct {
			Name     string `json:"name"`
			Trigger  string `json:"trigger"`
			Mentions string `json:"mentions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, domain.EventChatTrigger, got.Event)
	assert.Equal(t, int64(7), got.ServerID)
	assert.Equal(t, "Alpha", got.Data.Name)
	assert.Equal(t, "!admin", got.Data.Trigger)
	assert.Equal(t, "@here", got.Data.Mentions)

	close(src.ch)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the source closed")
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "", nil)
	assert.Error(t, err)
}
