package rcon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Conn
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadTimeout = 10 * time.Second
)

// DialFunc opens the raw byte stream to a server
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options tune a Conn. Zero values fall back to defaults.
type Options struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
	Retry       RetryPolicy
	Dial        DialFunc
	Logger      *slog.Logger
}

// Conn is one persistent, authenticated RCON session. All traffic on it is
// serialized; Execute calls from several goroutines queue up behind each other.
type Conn struct {
	address  string
	password string
	opts     Options
	log      *slog.Logger

	mu     sync.Mutex // guards nc, rd and nextID
	nc     net.Conn
	rd     *bufio.Reader
	nextID int32

	state  atomic.Int32
	closed atomic.Bool
	chat   ChatBuffer
}

// Dial connects to address and authenticates with password. Failures are
// returned as *AuthError and are not retried.
func Dial(ctx context.Context, address, password string, opts Options) (*Conn, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Dial == nil {
		d := &net.Dialer{}
		opts.Dial = d.DialContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{
		address:  address,
		password: password,
		opts:     opts,
		log:      logger.With("rcon", address),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Address returns the host:port this session talks to
func (c *Conn) Address() string { return c.address }

// State returns the current lifecycle state
func (c *Conn) State() State { return State(c.state.Load()) }

// DrainChat returns and clears all chat stream messages received so far
func (c *Conn) DrainChat() []ChatMessage { return c.chat.Drain() }

// Execute sends command and returns the reassembled response body. A transport
// failure triggers one reconnect and one retry of the command.
func (c *Conn) Execute(ctx context.Context, command string) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if c.closed.Load() {
			c.closeLocked()
		}
	}()

	var out string
	err := c.opts.Retry.Do(ctx, IsTransport, func(attempt int) error {
		if c.closed.Load() {
			return ErrClosed
		}
		if attempt > 1 || c.nc == nil {
			if err := c.reconnect(ctx); err != nil {
				return err
			}
		}
		res, err := c.execute(ctx, command)
		if err != nil {
			if IsTransport(err) {
				c.log.Warn("RCON transport error", "command", command, "attempt", attempt, "error", err)
			}
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// Close marks the session unusable. A command in flight finishes (or fails)
// on its own and the socket is closed once it returns.
func (c *Conn) Close() error {
	c.closed.Store(true)
	if c.mu.TryLock() {
		c.closeLocked()
		c.mu.Unlock()
	}
	return nil
}

func (c *Conn) closeLocked() {
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
		c.rd = nil
	}
	c.state.Store(int32(StateDisconnected))
}

func (c *Conn) reconnect(ctx context.Context) error {
	c.log.Warn("Reconnecting RCON session")
	c.state.Store(int32(StateReconnecting))
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
		c.rd = nil
	}
	return c.open(ctx)
}

// open dials and authenticates; the caller holds mu
func (c *Conn) open(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	nc, err := c.opts.Dial(dialCtx, "tcp", c.address)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return &AuthError{Reason: "host unreachable", Err: err}
	}

	c.state.Store(int32(StateAuthenticating))
	c.nc = nc
	c.rd = bufio.NewReader(nc)
	if err := c.authenticate(ctx); err != nil {
		nc.Close()
		c.nc = nil
		c.rd = nil
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.state.Store(int32(StateReady))
	return nil
}

func (c *Conn) authenticate(ctx context.Context) error {
	id := c.next()
	if err := c.writePacket(ctx, id, TypeAuth, []byte(c.password)); err != nil {
		return &AuthError{Reason: "sending credentials", Err: err}
	}

	p, err := c.readPacket(ctx, false)
	if err != nil {
		return &AuthError{Reason: "reading auth response", Err: err}
	}
	// Some servers lead with an empty response value packet
	if !p.EndOfMultipacket && p.Type == TypeResponseValue {
		if p, err = c.readPacket(ctx, false); err != nil {
			return &AuthError{Reason: "reading auth response", Err: err}
		}
	}
	if p.EndOfMultipacket || p.Type != TypeAuthResponse {
		return &AuthError{Reason: fmt.Sprintf("unexpected auth response type %d", p.Type)}
	}
	if p.ID == -1 {
		return &AuthError{Reason: "bad password"}
	}
	return nil
}

// execute runs a single attempt of command; the caller holds mu
func (c *Conn) execute(ctx context.Context, command string) (string, error) {
	if c.nc == nil {
		return "", &TransportError{Op: "execute", Err: ErrClosed}
	}

	cmdID := c.next()
	if err := c.writePacket(ctx, cmdID, TypeExecCommand, []byte(command)); err != nil {
		return "", err
	}
	// An empty response value packet sharing the counter marks where the reply ends
	chkID := c.next()
	if err := c.writePacket(ctx, chkID, TypeResponseValue, nil); err != nil {
		return "", err
	}

	var body bytes.Buffer
	for {
		p, err := c.readPacket(ctx, false)
		if err != nil {
			return "", &TransportError{Op: "read response", Err: err}
		}
		if p.EndOfMultipacket {
			c.log.Debug("Ignoring stray multipacket terminator", "command", command)
			continue
		}
		if p.Type != TypeResponseValue {
			return "", &TransportError{Op: "read response", Err: fmt.Errorf("%w: unexpected type %d", ErrMalformedPacket, p.Type)}
		}
		if p.ID == chkID {
			break
		}
		if p.ID != cmdID {
			return "", &TransportError{Op: "read response", Err: fmt.Errorf("%w: id %d, want %d", ErrMalformedPacket, p.ID, cmdID)}
		}
		body.Write(p.Body)
	}

	// Squad follows the check echo with an empty packet and the terminator
	trailing, err := c.readPacket(ctx, true)
	if err != nil {
		return "", &TransportError{Op: "read trailing packet", Err: err}
	}
	if !trailing.EndOfMultipacket {
		end, err := c.readPacket(ctx, true)
		if err != nil {
			return "", &TransportError{Op: "read terminator", Err: err}
		}
		if !end.EndOfMultipacket {
			return "", &TransportError{Op: "read terminator", Err: fmt.Errorf("%w: expected end of multipacket response", ErrMalformedPacket)}
		}
	}

	return cleanText(body.Bytes()), nil
}

// readPacket returns the next non-chat packet. Chat stream packets, and chat
// text carrying an embedded terminator, are diverted to the chat buffer. The
// bare terminator is only recognized when trailing is set.
func (c *Conn) readPacket(ctx context.Context, trailing bool) (*Packet, error) {
	for {
		if err := c.nc.SetReadDeadline(c.deadline(ctx)); err != nil {
			return nil, err
		}
		p, err := readPacket(c.rd, trailing)
		if err != nil {
			return nil, err
		}
		if p.EndOfMultipacket {
			return p, nil
		}
		if p.Type == TypeChatStream {
			c.chat.Append(cleanText(p.Body), time.Now())
			continue
		}
		if text, ok := SplitEmbeddedTerminator(p.Body); ok {
			c.chat.Append(text, time.Now())
			return &Packet{ID: -1, EndOfMultipacket: true}, nil
		}
		return p, nil
	}
}

func (c *Conn) writePacket(ctx context.Context, id, typ int32, body []byte) error {
	data, err := Encode(id, typ, body)
	if err != nil {
		return err
	}
	if err := c.nc.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if _, err := c.nc.Write(data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.opts.ReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (c *Conn) next() int32 {
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	return c.nextID
}

var _ Executor = (*Conn)(nil)
