// Package wsrelay is a websocket-backed adapters.PatchStore and
// adapters.PresenceAdapter, the reference multi-process transport.
// One Client owns a single gorilla/websocket connection and
// multiplexes patch envelopes, load-initial request/response pairs,
// and presence broadcasts over it as tagged JSON frames, following the
// dial/read-pump/write-mutex shape of the teacher's
// pkg/transport/websocket Connection (reduced: no pooling, compression
// negotiation, or reconnect backoff state machine — this relay is a
// single logical stream, not a multiplexed transport pool).
package wsrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/adapters"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// frameKind tags each multiplexed wire frame.
type frameKind string

const (
	frameAppend      frameKind = "append"
	frameLoadInitial frameKind = "loadInitial"
	frameLoadResult  frameKind = "loadResult"
	framePresence    frameKind = "presence"
)

type frame struct {
	Kind     frameKind          `json:"kind"`
	ReqID    string             `json:"reqId,omitempty"`
	Patch    *patch.Envelope    `json:"patch,omitempty"`
	Since    *patchid.ID        `json:"since,omitempty"`
	Patches  []patch.Envelope   `json:"patches,omitempty"`
	HasMore  bool               `json:"hasMore,omitempty"`
	Presence json.RawMessage    `json:"presence,omitempty"`
}

// Client owns one websocket connection shared by the PatchStore and
// PresenceAdapter views constructed over it (PatchStore and Presence).
type Client struct {
	conn *websocket.Conn
	log  logging.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	patchSubs  map[int]func(patch.Envelope)
	presSubs   map[int]func(interface{})
	pending    map[string]chan frame
	nextSub    int
	reqCounter int64

	closed chan struct{}
	once   sync.Once
}

// Dial connects to url and starts the read pump. Callers construct a
// PatchStore and/or Presence view over the returned Client.
func Dial(url string, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: dial %s: %w", url, err)
	}
	c := &Client{
		conn:      conn,
		log:       log,
		patchSubs: make(map[int]func(patch.Envelope)),
		presSubs:  make(map[int]func(interface{})),
		pending:   make(map[string]chan frame),
		closed:    make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Close terminates the connection and stops the read pump.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Warn("wsrelay: read pump exiting", logging.Err(err))
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("wsrelay: dropping malformed frame", logging.Err(err))
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Kind {
	case frameAppend:
		if f.Patch == nil {
			return
		}
		c.mu.Lock()
		subs := make([]func(patch.Envelope), 0, len(c.patchSubs))
		for _, fn := range c.patchSubs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(*f.Patch)
		}
	case frameLoadResult:
		c.mu.Lock()
		ch, ok := c.pending[f.ReqID]
		delete(c.pending, f.ReqID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	case framePresence:
		var state interface{}
		if err := json.Unmarshal(f.Presence, &state); err != nil {
			c.log.Warn("wsrelay: dropping malformed presence frame", logging.Err(err))
			return
		}
		c.mu.Lock()
		subs := make([]func(interface{}), 0, len(c.presSubs))
		for _, fn := range c.presSubs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(state)
		}
	}
}

func (c *Client) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) newReqID() string {
	n := atomic.AddInt64(&c.reqCounter, 1)
	return fmt.Sprintf("req-%d", n)
}

// PatchStore returns an adapters.PatchStore view over c.
func (c *Client) PatchStore() adapters.PatchStore { return patchStore{c: c} }

// Presence returns an adapters.PresenceAdapter view over c.
func (c *Client) Presence() adapters.PresenceAdapter { return presence{c: c} }

type patchStore struct{ c *Client }

var _ adapters.PatchStore = patchStore{}

func (p patchStore) LoadInitial(ctx context.Context, since *patchid.ID) (adapters.LoadResult, error) {
	reqID := p.c.newReqID()
	ch := make(chan frame, 1)
	p.c.mu.Lock()
	p.c.pending[reqID] = ch
	p.c.mu.Unlock()

	if err := p.c.writeFrame(frame{Kind: frameLoadInitial, ReqID: reqID, Since: since}); err != nil {
		p.c.mu.Lock()
		delete(p.c.pending, reqID)
		p.c.mu.Unlock()
		return adapters.LoadResult{}, fmt.Errorf("wsrelay: loadInitial: %w", err)
	}

	select {
	case f := <-ch:
		return adapters.LoadResult{Patches: f.Patches, HasMore: f.HasMore}, nil
	case <-ctx.Done():
		p.c.mu.Lock()
		delete(p.c.pending, reqID)
		p.c.mu.Unlock()
		return adapters.LoadResult{}, ctx.Err()
	case <-p.c.closed:
		return adapters.LoadResult{}, fmt.Errorf("wsrelay: connection closed")
	}
}

func (p patchStore) Append(_ context.Context, env patch.Envelope) error {
	return p.c.writeFrame(frame{Kind: frameAppend, Patch: &env})
}

func (p patchStore) Subscribe(onEnvelope func(patch.Envelope)) func() {
	p.c.mu.Lock()
	id := p.c.nextSub
	p.c.nextSub++
	p.c.patchSubs[id] = onEnvelope
	p.c.mu.Unlock()

	return func() {
		p.c.mu.Lock()
		delete(p.c.patchSubs, id)
		p.c.mu.Unlock()
	}
}

type presence struct{ c *Client }

var _ adapters.PresenceAdapter = presence{}

func (p presence) Publish(_ context.Context, state interface{}) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("wsrelay: marshal presence state: %w", err)
	}
	return p.c.writeFrame(frame{Kind: framePresence, Presence: raw})
}

func (p presence) Subscribe(onState func(interface{})) func() {
	p.c.mu.Lock()
	id := p.c.nextSub
	p.c.nextSub++
	p.c.presSubs[id] = onState
	p.c.mu.Unlock()

	return func() {
		p.c.mu.Lock()
		delete(p.c.presSubs, id)
		p.c.mu.Unlock()
	}
}
