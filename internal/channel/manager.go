// Package channel owns the push-channel lifecycle: connect,
// authenticate, heartbeat, exponential-backoff reconnect and state
// reporting.  The channel rides on Redis pub/sub: the authoritative
// store publishes seat events on per-show channels, commands go to a
// shared command channel, and each session owns a private reply
// channel that correlated responses arrive on.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-sync/internal/auth"
	"github.com/iliyamo/seat-sync/internal/coordinator"
	"github.com/iliyamo/seat-sync/internal/model"
)

const commandChannel = "seatsync:commands"

func replyChannel(sessionID string) string { return "seatsync:reply:" + sessionID }
func showChannel(showID string) string     { return "seatsync:show:" + showID }

// Options tunes the manager.  Zero values get sane defaults; the
// backoff bounds and heartbeat interval normally come from config.
type Options struct {
	Heartbeat      time.Duration
	CommandTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Manager implements coordinator.Channel.  One Manager serves one
// viewing context.  All methods are safe for concurrent use.
type Manager struct {
	rdb       *redis.Client
	opts      Options
	sessionID string

	mu           sync.Mutex
	state        model.ConnState
	creds        auth.Credentials
	showID       string
	pubsub       *redis.PubSub
	pending      map[string]chan reply
	reconnecting bool
	started      bool

	events chan model.Event
	states chan model.ConnState
	quit   chan struct{}
	once   sync.Once
}

// New builds a Manager on top of an existing Redis client.  A nil
// client is allowed; Connect will then fail with ErrUnavailable and
// the coordinator stays on the fallback gateway.
func New(rdb *redis.Client, sessionID string, opts Options) *Manager {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &Manager{
		rdb:       rdb,
		opts:      opts,
		sessionID: sessionID,
		state:     model.ConnDisconnected,
		pending:   make(map[string]chan reply),
		events:    make(chan model.Event, 64),
		states:    make(chan model.ConnState, 8),
		quit:      make(chan struct{}),
	}
}

// Connect establishes and authenticates the channel.  A rejected or
// already-expired credential is terminal: the state goes to failed and
// no reconnect is ever attempted, so all further operations route
// through the fallback gateway.  A transient failure returns the error
// but leaves a background reconnect loop running.
func (m *Manager) Connect(ctx context.Context, creds auth.Credentials) error {
	if m.rdb == nil {
		m.setState(model.ConnDisconnected)
		return fmt.Errorf("connect: %w", coordinator.ErrUnavailable)
	}
	if creds.Token == "" {
		m.setState(model.ConnFailed)
		return fmt.Errorf("connect: %w: empty credential", coordinator.ErrAuthFailed)
	}
	if !creds.ExpiresAt.IsZero() && !creds.ExpiresAt.After(time.Now().UTC()) {
		// Fail fast: presenting this token would be rejected anyway.
		m.setState(model.ConnFailed)
		return fmt.Errorf("connect: %w: credential expired", coordinator.ErrAuthFailed)
	}
	m.mu.Lock()
	m.creds = creds
	startHeartbeat := !m.started
	m.started = true
	m.mu.Unlock()
	if startHeartbeat {
		go m.heartbeatLoop()
	}

	m.setState(model.ConnConnecting)
	if err := m.establish(ctx); err != nil {
		if errors.Is(err, coordinator.ErrAuthFailed) {
			m.setState(model.ConnFailed)
			return err
		}
		go m.reconnectLoop()
		return fmt.Errorf("connect: %w", err)
	}
	m.setState(model.ConnConnected)
	return nil
}

// establish performs one full connection attempt: ping, subscribe the
// reply (and current show) channel, start the reader and authenticate.
func (m *Manager) establish(ctx context.Context) error {
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	m.mu.Lock()
	show := m.showID
	m.mu.Unlock()

	channels := []string{replyChannel(m.sessionID)}
	if show != "" {
		channels = append(channels, showChannel(show))
	}
	ps := m.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	m.mu.Lock()
	old := m.pubsub
	m.pubsub = ps
	creds := m.creds
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	go m.readLoop(ps)

	rep, err := m.roundTrip(ctx, command{Action: cmdAuthenticate, Token: creds.Token, UserID: creds.UserID})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if !rep.OK {
		if rep.Error == replyErrUnauthorized {
			return fmt.Errorf("handshake: %w", coordinator.ErrAuthFailed)
		}
		return fmt.Errorf("handshake rejected: %s", rep.Error)
	}
	return nil
}

// readLoop drains one subscription until it closes, splitting replies
// from events.  A closed subscription that was not superseded or shut
// down means the connection dropped, which kicks off a reconnect.
func (m *Manager) readLoop(ps *redis.PubSub) {
	replyName := replyChannel(m.sessionID)
	for msg := range ps.Channel() {
		if msg.Channel == replyName {
			m.deliverReply([]byte(msg.Payload))
			continue
		}
		ev, err := normalizeEvent([]byte(msg.Payload))
		if err != nil {
			log.Printf("channel: dropping event: %v", err)
			continue
		}
		m.dispatchEvent(ev)
	}
	select {
	case <-m.quit:
		return
	default:
	}
	m.mu.Lock()
	current := m.pubsub == ps
	m.mu.Unlock()
	if current {
		go m.reconnectLoop()
	}
}

// dispatchEvent hands one normalized event to the consumer.  A full
// buffer means the consumer just lost an authoritative update, and a
// lost update left unrepaired diverges local state for the rest of the
// session.  The drop is converted into a connected-state nudge: the
// coordinator reacts to it exactly like a reconnect, rejoining the
// show and merging a fresh snapshot.
func (m *Manager) dispatchEvent(ev model.Event) {
	select {
	case m.events <- ev:
		return
	default:
	}
	log.Printf("channel: event buffer full, dropped %s; requesting resync", ev.Kind)
	select {
	case m.states <- model.ConnConnected:
	default:
	}
}

func (m *Manager) deliverReply(payload []byte) {
	var rep reply
	if err := json.Unmarshal(payload, &rep); err != nil {
		log.Printf("channel: bad reply payload: %v", err)
		return
	}
	m.mu.Lock()
	ch, ok := m.pending[rep.CommandID]
	delete(m.pending, rep.CommandID)
	m.mu.Unlock()
	if ok {
		ch <- rep
	}
}

// reconnectLoop retries establish with exponential backoff.  The delay
// is bounded by BackoffMax, the attempt counter resets by leaving the
// loop on success, and the loop is never permanently exhausted; only
// shutdown or an authentication rejection stops it.
func (m *Manager) reconnectLoop() {
	m.mu.Lock()
	if m.reconnecting || m.state == model.ConnFailed {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	m.setState(model.ConnReconnecting)
	delay := m.opts.BackoffInitial
	for attempt := 1; ; attempt++ {
		select {
		case <-m.quit:
			return
		case <-time.After(delay):
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.establish(ctx)
		cancel()
		if err == nil {
			// Observers react to this transition by resubscribing and
			// requesting a full snapshot.
			m.setState(model.ConnConnected)
			return
		}
		if errors.Is(err, coordinator.ErrAuthFailed) {
			log.Printf("channel: authentication rejected during reconnect; giving up push path")
			m.setState(model.ConnFailed)
			return
		}
		log.Printf("channel: reconnect attempt %d failed: %v; retrying in %s", attempt, err, delay)
		delay = nextBackoff(delay, m.opts.BackoffMax)
	}
}

// nextBackoff doubles the reconnect delay up to max.
func nextBackoff(delay, max time.Duration) time.Duration {
	if delay >= max {
		return max
	}
	delay *= 2
	if delay > max {
		delay = max
	}
	return delay
}

func (m *Manager) heartbeatLoop() {
	t := time.NewTicker(m.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-t.C:
			if m.State() != model.ConnConnected {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := m.rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				log.Printf("channel: heartbeat failed: %v", err)
				go m.reconnectLoop()
			}
		}
	}
}

func (m *Manager) setState(st model.ConnState) {
	m.mu.Lock()
	if m.state == st {
		m.mu.Unlock()
		return
	}
	m.state = st
	m.mu.Unlock()
	select {
	case m.states <- st:
	default:
		log.Printf("channel: state buffer full, dropping transition to %s", st)
	}
}

// State reports the current connection state.
func (m *Manager) State() model.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HealthCheck reports whether the underlying connection answers.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	return m.rdb != nil && m.rdb.Ping(ctx).Err() == nil
}

// Events delivers normalized push events.
func (m *Manager) Events() <-chan model.Event { return m.events }

// States delivers connection-state transitions.
func (m *Manager) States() <-chan model.ConnState { return m.states }

// Disconnect tears the channel down.  It does not release any holds;
// holds end only via deselect, authoritative expiration or booking.
func (m *Manager) Disconnect() {
	m.once.Do(func() { close(m.quit) })
	m.mu.Lock()
	ps := m.pubsub
	m.pubsub = nil
	m.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
	m.setState(model.ConnDisconnected)
}

// JoinShow subscribes the session to a show's event feed and registers
// the subscription with the store.  The show is remembered so every
// reconnect resubscribes it.
func (m *Manager) JoinShow(ctx context.Context, showID string) error {
	m.mu.Lock()
	prev := m.showID
	m.showID = showID
	ps := m.pubsub
	m.mu.Unlock()
	if ps == nil {
		return fmt.Errorf("join show: %w", coordinator.ErrUnavailable)
	}
	if prev != "" && prev != showID {
		_ = ps.Unsubscribe(ctx, showChannel(prev))
	}
	if err := ps.Subscribe(ctx, showChannel(showID)); err != nil {
		return fmt.Errorf("join show: %w", err)
	}
	rep, err := m.roundTrip(ctx, command{Action: cmdJoin, ShowID: showID})
	if err != nil {
		return err
	}
	return replyError(rep)
}

// LeaveShow drops the current show subscription.
func (m *Manager) LeaveShow(ctx context.Context) error {
	m.mu.Lock()
	show := m.showID
	m.showID = ""
	ps := m.pubsub
	m.mu.Unlock()
	if show == "" || ps == nil {
		return nil
	}
	_ = ps.Unsubscribe(ctx, showChannel(show))
	rep, err := m.roundTrip(ctx, command{Action: cmdLeave, ShowID: show})
	if err != nil {
		return err
	}
	return replyError(rep)
}

// roundTrip publishes one command and waits for its correlated reply.
func (m *Manager) roundTrip(ctx context.Context, cmd command) (reply, error) {
	cmd.ID = uuid.NewString()
	cmd.ReplyTo = replyChannel(m.sessionID)
	ch := make(chan reply, 1)
	m.mu.Lock()
	m.pending[cmd.ID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, cmd.ID)
		m.mu.Unlock()
	}()

	body, err := json.Marshal(cmd)
	if err != nil {
		return reply{}, err
	}
	if err := m.rdb.Publish(ctx, commandChannel, body).Err(); err != nil {
		return reply{}, fmt.Errorf("publish %s: %w", cmd.Action, err)
	}
	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-time.After(m.opts.CommandTimeout):
		return reply{}, fmt.Errorf("command %s timed out", cmd.Action)
	case <-m.quit:
		return reply{}, coordinator.ErrClosed
	}
}

// command gates a transport operation on a live channel before doing
// the round trip.
func (m *Manager) command(ctx context.Context, cmd command) (reply, error) {
	if m.State() != model.ConnConnected {
		return reply{}, coordinator.ErrUnavailable
	}
	return m.roundTrip(ctx, cmd)
}

// replyError maps a negative reply onto the coordinator's sentinels.
func replyError(rep reply) error {
	if rep.OK {
		return nil
	}
	switch rep.Error {
	case replyErrConflict:
		return coordinator.ErrSeatConflict
	case replyErrUnauthorized:
		return coordinator.ErrAuthFailed
	case replyErrInvalid:
		return coordinator.ErrValidation
	default:
		return fmt.Errorf("store rejected command: %s", rep.Error)
	}
}

// Snapshot implements coordinator.Transport via get-state.
func (m *Manager) Snapshot(ctx context.Context, showID string) (model.Snapshot, error) {
	rep, err := m.command(ctx, command{Action: cmdGetState, ShowID: showID})
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := replyError(rep); err != nil {
		return model.Snapshot{}, err
	}
	if rep.Snapshot == nil {
		return model.Snapshot{}, fmt.Errorf("get-state reply without snapshot")
	}
	snap := normalizeSnapshot(*rep.Snapshot)
	if snap.ShowID == "" {
		snap.ShowID = showID
	}
	return snap, nil
}

// SelectSeat implements coordinator.Transport.
func (m *Manager) SelectSeat(ctx context.Context, showID, seatID, userID string) (model.Hold, error) {
	rep, err := m.command(ctx, command{Action: cmdSelect, ShowID: showID, SeatID: seatID, UserID: userID})
	if err != nil {
		return model.Hold{}, err
	}
	if err := replyError(rep); err != nil {
		return model.Hold{}, err
	}
	h := model.Hold{SeatID: seatID, ShowID: showID, UserID: userID}
	if rep.Hold != nil {
		h.AcquiredAt = rep.Hold.AcquiredAt
		h.ExpiresAt = rep.Hold.ExpiresAt
		h.RenewalCount = rep.Hold.RenewalCount
	}
	return h, nil
}

// DeselectSeat implements coordinator.Transport.
func (m *Manager) DeselectSeat(ctx context.Context, showID, seatID, userID string) error {
	rep, err := m.command(ctx, command{Action: cmdDeselect, ShowID: showID, SeatID: seatID, UserID: userID})
	if err != nil {
		return err
	}
	return replyError(rep)
}

// ExtendHold implements coordinator.Transport.
func (m *Manager) ExtendHold(ctx context.Context, showID, seatID string) (time.Time, error) {
	rep, err := m.command(ctx, command{Action: cmdExtend, ShowID: showID, SeatID: seatID})
	if err != nil {
		return time.Time{}, err
	}
	if err := replyError(rep); err != nil {
		return time.Time{}, err
	}
	return rep.NewExpiresAt, nil
}

// ConfirmBooking implements coordinator.Transport.
func (m *Manager) ConfirmBooking(ctx context.Context, showID string, seatIDs []string, booking map[string]any) (string, error) {
	rep, err := m.command(ctx, command{Action: cmdConfirm, ShowID: showID, SeatIDs: seatIDs, Booking: booking})
	if err != nil {
		return "", err
	}
	if err := replyError(rep); err != nil {
		return "", err
	}
	return rep.BookingID, nil
}
