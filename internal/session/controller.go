// Package session implements the room synchronization layer: lifecycle
// (create/join/leave), the action broadcast protocol, the newcomer state
// handshake, edit batching, and throttled snapshot persistence. The
// simulation and UI stay outside; they inject state and consume callbacks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridtown/internal/channel"
	"gridtown/internal/clock"
	"gridtown/internal/snapshot"
	"gridtown/internal/wire"
	"gridtown/logging"
)

// ConnState is the controller's connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// ErrRoomNotFound is returned by JoinRoom when no snapshot exists for the
// requested code.
var ErrRoomNotFound = errors.New("session: room not found")

// RoomCreateError wraps a persistence or subscription failure during room
// creation.
type RoomCreateError struct {
	Err error
}

func (e *RoomCreateError) Error() string {
	return fmt.Sprintf("session: create room: %v", e.Err)
}

func (e *RoomCreateError) Unwrap() error {
	return e.Err
}

// Callbacks surface the controller's observable side effects to the UI and
// simulation layer. Nil members are skipped.
type Callbacks struct {
	OnConnectionChange func(connected bool, peerCount int)
	OnPlayersChange    func(peers []Peer)
	// OnAction delivers a validated remote action for the simulation to
	// apply. Actions this peer sent are never delivered here.
	OnAction func(action wire.Action)
	// OnStateReceived delivers a codec-encoded state: the provisional
	// snapshot on join, then at most one reconciled state from the
	// handshake. DecodeState turns it back into a concrete value.
	OnStateReceived func(encoded string)
	OnError         func(message string)
}

// Config carries the controller's collaborators. Transport and Store are
// required; the rest default sensibly.
type Config struct {
	Transport channel.Transport
	Store     *snapshot.Store
	Codec     snapshot.Codec
	Clock     clock.Clock
	Publisher logging.Publisher
	Callbacks Callbacks

	// PlayerName and PlayerColor describe the local peer in presence.
	PlayerName  string
	PlayerColor string

	FlushWindow time.Duration
	MaxBatch    int
	JitterMax   time.Duration
}

func (c Config) normalized() Config {
	if c.Codec == nil {
		c.Codec = snapshot.GzipCodec{}
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	if c.FlushWindow <= 0 {
		c.FlushWindow = DefaultFlushWindow
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.JitterMax <= 0 {
		c.JitterMax = DefaultJitterMax
	}
	return c
}

// RoomInfo is the metadata returned when joining an existing room.
type RoomInfo struct {
	Code        string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PeerCount   int
}

// roomSession is the per-room state owned by the controller between a
// successful create/join and the matching leave.
type roomSession struct {
	code      string
	role      Role
	channel   channel.Channel
	batcher   *Batcher
	handshake *Handshake
	roster    *Roster
}

// Controller orchestrates one peer's participation in a room. Multiple
// controllers coexist in a process, each with its own identity and session.
type Controller struct {
	cfg Config
	id  string

	mu            sync.Mutex
	state         ConnState
	sess          *roomSession
	latestState   any
	latestEncoded string
	modifiedAt    time.Time
}

func New(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: snapshot store is required")
	}
	return &Controller{cfg: cfg.normalized(), id: uuid.NewString()}, nil
}

// PeerID returns the local peer's identity used to stamp outgoing actions.
func (c *Controller) PeerID() string {
	return c.id
}

// State returns the connection lifecycle state.
func (c *Controller) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CreateRoom generates a room code, persists the initial snapshot, opens
// the room channel as creator, and returns the code.
func (c *Controller) CreateRoom(ctx context.Context, displayName string, initialState any) (string, error) {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return "", errors.New("session: already in a room")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	code, err := wire.NewRoomCode()
	if err != nil {
		c.setState(StateDisconnected)
		return "", &RoomCreateError{Err: err}
	}

	if err := c.cfg.Store.Create(ctx, code, displayName, initialState); err != nil {
		c.setState(StateDisconnected)
		return "", &RoomCreateError{Err: err}
	}

	sess, err := c.openSession(ctx, code, RoleCreator)
	if err != nil {
		c.setState(StateDisconnected)
		return "", &RoomCreateError{Err: err}
	}

	c.mu.Lock()
	c.sess = sess
	c.latestState = initialState
	c.latestEncoded = ""
	c.modifiedAt = c.cfg.Clock.Now()
	c.state = StateConnected
	count := sess.roster.Count()
	c.mu.Unlock()

	logging.Lifecycle(ctx, c.cfg.Publisher, logging.EventRoomCreated, code, c.id, map[string]any{"displayName": displayName})
	c.notifyConnection(true, count)
	return code, nil
}

// JoinRoom loads the room's persisted snapshot, surfaces it as provisional
// state, and opens the channel. The reconciliation handshake then runs in
// the background and may supersede the provisional state exactly once.
func (c *Controller) JoinRoom(ctx context.Context, roomCode string) (RoomInfo, error) {
	code := wire.NormalizeRoomCode(roomCode)
	if !wire.ValidRoomCode(code) {
		return RoomInfo{}, ErrRoomNotFound
	}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return RoomInfo{}, errors.New("session: already in a room")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	rec, err := c.cfg.Store.Load(ctx, code, nil)
	if err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, snapshot.ErrNotFound) {
			return RoomInfo{}, ErrRoomNotFound
		}
		return RoomInfo{}, fmt.Errorf("session: join room %s: %w", code, err)
	}

	sess, err := c.openSession(ctx, code, RoleJoiner)
	if err != nil {
		c.setState(StateDisconnected)
		return RoomInfo{}, fmt.Errorf("session: join room %s: %w", code, err)
	}

	c.mu.Lock()
	c.sess = sess
	c.latestState = nil
	c.latestEncoded = rec.EncodedState
	c.modifiedAt = rec.UpdatedAt
	c.state = StateConnected
	count := sess.roster.Count()
	c.mu.Unlock()

	logging.Lifecycle(ctx, c.cfg.Publisher, logging.EventRoomJoined, code, c.id, nil)
	c.notifyConnection(true, count)
	// The persisted snapshot may be stale relative to connected peers; it
	// stands until the handshake delivers something fresher.
	if c.cfg.Callbacks.OnStateReceived != nil {
		c.cfg.Callbacks.OnStateReceived(rec.EncodedState)
	}

	return RoomInfo{
		Code:        rec.RoomCode,
		DisplayName: rec.DisplayName,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		PeerCount:   rec.PeerCount,
	}, nil
}

// LeaveRoom tears the session down: final batch flush, best-effort save of
// pending snapshot state, cancelled timers, released subscription — in that
// order, all best-effort. Calling it twice is a no-op.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.batcher.Close()
	if err := c.cfg.Store.Flush(ctx); err != nil {
		log.Printf("final snapshot flush for %s failed: %v", sess.code, err)
	}
	sess.handshake.Close()
	if err := sess.channel.Close(ctx); err != nil {
		log.Printf("channel close for %s failed: %v", sess.code, err)
	}

	c.setState(StateDisconnected)
	logging.Lifecycle(ctx, c.cfg.Publisher, logging.EventRoomLeft, sess.code, c.id, nil)
	c.notifyConnection(false, 0)
	return nil
}

// Dispatch stamps and sends an action. Placement actions pass through the
// batcher; everything else flushes the batcher first and goes out
// immediately, preserving causal order with earlier placements.
func (c *Controller) Dispatch(action wire.Action) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		log.Printf("dropping %s action dispatched outside a session", action.Type)
		return
	}

	if action.Batchable() {
		sess.batcher.Add(wire.Placement{X: action.X, Y: action.Y, Tool: action.Tool})
		return
	}

	sess.batcher.Flush()
	c.send(sess, action)
}

// UpdateState records the latest authoritative local state for throttled
// persistence and handshake responses. It does not broadcast. The returned
// error is non-nil only when the encoded state exceeds the size limit.
func (c *Controller) UpdateState(state any) error {
	c.mu.Lock()
	sess := c.sess
	c.latestState = state
	c.latestEncoded = ""
	c.modifiedAt = c.cfg.Clock.Now()
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return c.cfg.Store.Save(sess.code, state)
}

// DecodeState decodes an encoded state delivered via OnStateReceived.
func (c *Controller) DecodeState(encoded string, out any) error {
	return c.cfg.Codec.Decode(encoded, out)
}

func (c *Controller) openSession(ctx context.Context, code string, role Role) (*roomSession, error) {
	sess := &roomSession{code: code, role: role}
	sess.handshake = NewHandshake(role, c.cfg.Clock, c.cfg.JitterMax)
	sess.batcher = NewBatcher(c.cfg.Clock, c.cfg.FlushWindow, c.cfg.MaxBatch, func(action wire.Action) {
		c.send(sess, action)
	})

	local := Peer{
		ID:       c.id,
		Name:     c.cfg.PlayerName,
		Color:    c.cfg.PlayerColor,
		JoinedAt: c.cfg.Clock.Now(),
	}
	sess.roster = NewRoster(local, func(peers []Peer) {
		c.rosterChanged(sess, peers)
	})

	member := channel.Member{
		ID:       c.id,
		Name:     c.cfg.PlayerName,
		Color:    c.cfg.PlayerColor,
		JoinedAt: local.JoinedAt.UnixMilli(),
	}
	handlers := channel.Handlers{
		OnEvent: func(event string, payload []byte) { c.handleEvent(sess, event, payload) },
		OnJoin:  func(m channel.Member) { c.handleJoin(sess, m) },
		OnLeave: func(m channel.Member) { sess.roster.Leave(m) },
		OnSync:  func(ms []channel.Member) { sess.roster.Sync(ms) },
		OnError: func(err error) { c.handleTransportError(sess, err) },
	}

	ch, err := c.cfg.Transport.Open(ctx, "room:"+code, member, handlers)
	if err != nil {
		sess.batcher.Close()
		sess.handshake.Close()
		return nil, err
	}
	sess.channel = ch
	return sess, nil
}

func (c *Controller) send(sess *roomSession, action wire.Action) {
	stamped := action.Stamp(c.id, c.cfg.Clock.Now())
	data, err := stamped.Encode()
	if err != nil {
		c.reportError(fmt.Sprintf("encode %s action: %v", action.Type, err))
		return
	}
	if err := sess.channel.Broadcast(context.Background(), wire.EventAction, data); err != nil {
		c.reportError(fmt.Sprintf("broadcast %s action: %v", action.Type, err))
	}
}

func (c *Controller) handleEvent(sess *roomSession, event string, payload []byte) {
	switch event {
	case wire.EventAction:
		c.handleAction(payload)
	case wire.EventState:
		c.handleStateSync(sess, payload)
	default:
		log.Printf("discarding unknown event %q in %s", event, sess.code)
	}
}

func (c *Controller) handleAction(payload []byte) {
	action, err := wire.DecodeAction(payload)
	if err != nil {
		log.Printf("dropping malformed action: %v", err)
		return
	}
	// A receiver never re-applies its own action, even if the transport
	// were to echo it back.
	if action.SenderID == c.id {
		return
	}
	if action.Reserved() {
		log.Printf("ignoring reserved %s action from %s", action.Type, action.SenderID)
		return
	}
	if c.cfg.Callbacks.OnAction != nil {
		c.cfg.Callbacks.OnAction(action)
	}
}

func (c *Controller) handleStateSync(sess *roomSession, payload []byte) {
	sync, err := wire.DecodeStateSync(payload)
	if err != nil {
		log.Printf("dropping malformed state sync: %v", err)
		return
	}
	if !sess.handshake.Accept(sync, c.id) {
		return
	}

	c.mu.Lock()
	c.latestState = nil
	c.latestEncoded = sync.State
	if sync.ModifiedAt > 0 {
		c.modifiedAt = time.UnixMilli(sync.ModifiedAt)
	} else {
		c.modifiedAt = c.cfg.Clock.Now()
	}
	c.mu.Unlock()

	logging.Lifecycle(context.Background(), c.cfg.Publisher, logging.EventStateReconciled, sess.code, c.id,
		map[string]any{"from": sync.From})
	if c.cfg.Callbacks.OnStateReceived != nil {
		c.cfg.Callbacks.OnStateReceived(sync.State)
	}
}

// handleJoin patches the roster and schedules a jittered handshake response
// carrying this peer's current state to the newcomer.
func (c *Controller) handleJoin(sess *roomSession, m channel.Member) {
	sess.roster.Join(m)
	if m.ID == c.id {
		return
	}
	target := m.ID
	sess.handshake.ScheduleResponse(func() {
		c.respondWithState(sess, target)
	})
}

func (c *Controller) respondWithState(sess *roomSession, target string) {
	c.mu.Lock()
	state := c.latestState
	encoded := c.latestEncoded
	modifiedAt := c.modifiedAt
	c.mu.Unlock()

	if state != nil {
		var err error
		encoded, err = c.cfg.Codec.Encode(state)
		if err != nil {
			c.reportError(fmt.Sprintf("encode handshake state: %v", err))
			return
		}
	}
	if encoded == "" {
		// Nothing to offer yet; another peer's response will cover the
		// newcomer, or the persisted snapshot stands.
		return
	}

	sync := wire.StateSync{State: encoded, To: target, From: c.id, ModifiedAt: modifiedAt.UnixMilli()}
	data, err := sync.Encode()
	if err != nil {
		c.reportError(fmt.Sprintf("encode handshake message: %v", err))
		return
	}
	if err := sess.channel.Broadcast(context.Background(), wire.EventState, data); err != nil {
		c.reportError(fmt.Sprintf("broadcast handshake message: %v", err))
	}
}

func (c *Controller) rosterChanged(sess *roomSession, peers []Peer) {
	if c.cfg.Callbacks.OnPlayersChange != nil {
		c.cfg.Callbacks.OnPlayersChange(peers)
	}
	// Best-effort hint on the room row; a failure only costs accuracy of
	// the persisted peer count.
	count := len(peers)
	go func() {
		if err := c.cfg.Store.SetPeerCount(context.Background(), sess.code, count); err != nil {
			log.Printf("peer count update for %s failed: %v", sess.code, err)
		}
	}()
}

func (c *Controller) handleTransportError(sess *roomSession, err error) {
	c.mu.Lock()
	active := c.sess == sess
	if active {
		c.state = StateError
	}
	c.mu.Unlock()
	if !active {
		return
	}
	logging.Network(context.Background(), c.cfg.Publisher, logging.EventBroadcastDropped, logging.SeverityError, sess.code, c.id,
		map[string]any{"error": err.Error()})
	c.reportError(err.Error())
	c.notifyConnection(false, sess.roster.Count())
}

func (c *Controller) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Controller) notifyConnection(connected bool, peerCount int) {
	if c.cfg.Callbacks.OnConnectionChange != nil {
		c.cfg.Callbacks.OnConnectionChange(connected, peerCount)
	}
}

func (c *Controller) reportError(message string) {
	if c.cfg.Callbacks.OnError != nil {
		c.cfg.Callbacks.OnError(message)
	} else {
		log.Printf("session error: %s", message)
	}
}
