// Package bridge attaches driveprobe to a drive daemon over a websocket.
// The swarm membership, replication protocol and storage all live in the
// daemon; the bridge issues the high-level operations and reads counters,
// nothing more.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/driveprobe/driveprobe"
)

// Counter subsystems refresh lazily daemon-side. Reads inside this window
// reuse the last response instead of another round trip.
const statsCacheWindow = time.Second

// Client is a driveprobe.Backend speaking the daemon's websocket protocol.
type Client struct {
	conn   *websocket.Conn
	logger log.Logger
	clock  clock.Clock

	// Guards writes to the socket. gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu      sync.Mutex
	nextId  uint64
	pending map[uint64]chan frame

	events chan driveprobe.SwarmEvent
	closed chansync.SetOnce

	statsMu sync.Mutex
	statsAt time.Time
	stats   driveprobe.StatsBundle
	statsOk bool
}

var _ driveprobe.Backend = (*Client)(nil)

func Dial(ctx context.Context, url string, logger log.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing drive daemon: %w", err)
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		clock:   clock.New(),
		pending: make(map[uint64]chan frame),
		events:  make(chan driveprobe.SwarmEvent, 16),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !c.closed.IsSet() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Levelf(log.Warning, "reading from daemon: %v", err)
			}
			return
		}
		if f.Event != "" {
			c.dispatchEvent(f)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.Id]
		if ok {
			delete(c.pending, f.Id)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Levelf(log.Debug, "response for unknown request id %v", f.Id)
			continue
		}
		ch <- f
	}
}

// shutdown fails all outstanding calls and closes the event stream. Runs once,
// when the read loop exits.
func (c *Client) shutdown() {
	c.closed.Set()
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
	close(c.events)
}

func (c *Client) dispatchEvent(f frame) {
	var p eventPayload
	if len(f.Result) > 0 {
		if err := json.Unmarshal(f.Result, &p); err != nil {
			c.logger.Levelf(log.Debug, "decoding %v event: %v", f.Event, err)
		}
	}
	select {
	case c.events <- driveprobe.SwarmEvent{Kind: f.Event, Peer: p.Peer, Err: p.Error}:
	default:
		// Telemetry only. Drop rather than stall the read loop.
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %v params: %w", method, err)
		}
		raw = b
	}
	c.mu.Lock()
	if c.closed.IsSet() {
		c.mu.Unlock()
		return fmt.Errorf("%v: daemon connection closed", method)
	}
	c.nextId++
	id := c.nextId
	ch := make(chan frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(frame{Id: id, Method: method, Params: raw})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("sending %v: %w", method, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return fmt.Errorf("%v: daemon connection closed", method)
		}
		if f.Error != "" {
			return fmt.Errorf("%v: %v", method, f.Error)
		}
		if result != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, result); err != nil {
				return fmt.Errorf("decoding %v result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close shuts the daemon connection down. Fine to call after the session has
// already torn everything down through the Backend interface.
func (c *Client) Close() error {
	if !c.closed.Set() {
		return nil
	}
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) OpenDrive(ctx context.Context, dir, key string) (driveprobe.Drive, error) {
	var res openResult
	if err := c.call(ctx, "open", openParams{Dir: dir, Key: key}, &res); err != nil {
		return nil, err
	}
	return &drive{c: c, discoveryKey: res.DiscoveryKey}, nil
}

func (c *Client) Swarm() driveprobe.Swarm {
	return swarm{c}
}

func (c *Client) Stats(ctx context.Context) (driveprobe.StatsBundle, error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.statsOk && c.clock.Since(c.statsAt) < statsCacheWindow {
		return c.stats, nil
	}
	var res statsResult
	if err := c.call(ctx, "stats", nil, &res); err != nil {
		return driveprobe.StatsBundle{}, err
	}
	c.stats = res.bundle()
	c.statsAt = c.clock.Now()
	c.statsOk = true
	return c.stats, nil
}

type drive struct {
	c            *Client
	discoveryKey string
}

var _ driveprobe.Drive = (*drive)(nil)

func (d *drive) Ready(ctx context.Context) error {
	return d.c.call(ctx, "ready", nil, nil)
}

func (d *drive) DiscoveryKey() string {
	return d.discoveryKey
}

func (d *drive) streams(ctx context.Context) (res driveResult, err error) {
	err = d.c.call(ctx, "drive", nil, &res)
	return
}

func (d *drive) Metadata(ctx context.Context) (driveprobe.StreamStats, error) {
	res, err := d.streams(ctx)
	if err != nil {
		return driveprobe.StreamStats{}, err
	}
	return res.Metadata, nil
}

func (d *drive) Blobs(ctx context.Context) (g.Option[driveprobe.StreamStats], error) {
	res, err := d.streams(ctx)
	if err != nil || res.Blobs == nil {
		return g.None[driveprobe.StreamStats](), err
	}
	return g.Some(*res.Blobs), nil
}

func (d *drive) Update(ctx context.Context) error {
	return d.c.call(ctx, "update", nil, nil)
}

func (d *drive) Download(ctx context.Context, path string) error {
	return d.c.call(ctx, "download", downloadParams{Path: path, Wait: true}, nil)
}

func (d *drive) Close() error {
	return d.c.call(context.Background(), "close", nil, nil)
}

type swarm struct {
	c *Client
}

var _ driveprobe.Swarm = swarm{}

func (s swarm) Join(ctx context.Context, discoveryKey string, opts driveprobe.JoinOptions) error {
	return s.c.call(ctx, "join", joinParams{
		Discovery: discoveryKey,
		Server:    opts.Server,
		Client:    opts.Client,
	}, nil)
}

func (s swarm) Events() <-chan driveprobe.SwarmEvent {
	return s.c.events
}

func (s swarm) Destroy(ctx context.Context) error {
	return s.c.call(ctx, "leave", nil, nil)
}
