package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrQueueClosed = errors.New("hub queue closed")
	ErrNilEvent    = errors.New("nil inbound event")
)

// Handle is the push side of one live connection.
type Handle interface {
	// Send delivers one frame. An error means the connection is gone.
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Store is the durable state the hub reads.
type Store interface {
	GetGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GetGroupByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error)
}

// Enqueuer receives every durable event after delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, resp models.Response) error
}

// PresenceSink is told when users come and go.
type PresenceSink interface {
	Online(ctx context.Context, userID uuid.UUID) error
	Offline(ctx context.Context, userID uuid.UUID) error
	TTL() time.Duration
}

// WorkerMessage is anything the hub loop consumes.
type WorkerMessage interface {
	isWorkerMessage()
}

type Login struct {
	UserID uuid.UUID
	Handle Handle
}

// Shutdown removes a user's registry entry if it still belongs to Handle.
// A nil Handle removes the entry unconditionally.
type Shutdown struct {
	UserID uuid.UUID
	Handle Handle
}

type Inbound struct {
	Event models.Request
}

type onlineQuery struct {
	ids   []uuid.UUID
	reply chan []uuid.UUID
}

func (Login) isWorkerMessage()       {}
func (Shutdown) isWorkerMessage()    {}
func (Inbound) isWorkerMessage()     {}
func (onlineQuery) isWorkerMessage() {}

type HubConfig struct {
	QueueSize    int
	StoreTimeout time.Duration
	PushTimeout  time.Duration
}

type HubStats struct {
	Logins        int64
	LoginFailures int64
	Delivered     int64
	Evicted       int64
	OfflineDrops  int64
	Persisted     int64
	PersistErrors int64

	ApproveLookupFailed   int64
	ApproveGroupNotFound  int64
	ApproveOwnerMismatch  int64
	UnknownWorkerMessages int64
}

type activeConnection struct {
	userID uuid.UUID
	groups map[uuid.UUID]struct{}
	handle Handle
}

// Hub is the presence registry and router. All registry state is owned by
// the goroutine in Run; everything else talks to it through Submit.
type Hub struct {
	cfg        HubConfig
	store      Store
	out        Enqueuer
	presence   PresenceSink
	translator models.Translator
	log        zerolog.Logger

	input   chan WorkerMessage
	done    chan struct{}
	clients map[uuid.UUID]*activeConnection

	statsMu sync.Mutex
	stats   HubStats
}

// NewHub creates a hub. presence may be nil.
func NewHub(cfg HubConfig, store Store, out Enqueuer, presence PresenceSink) *Hub {
	return &Hub{
		cfg:        cfg,
		store:      store,
		out:        out,
		presence:   presence,
		translator: models.DefaultTranslator,
		log:        logger.Component("hub"),
		input:      make(chan WorkerMessage, cfg.QueueSize),
		done:       make(chan struct{}),
		clients:    make(map[uuid.UUID]*activeConnection),
	}
}

// Run processes worker messages one at a time until ctx is cancelled, then
// removes every registered user, closing its handle and marking it offline.
func (h *Hub) Run(ctx context.Context) {
	var refresh <-chan time.Time
	if h.presence != nil && h.presence.TTL() > 0 {
		ticker := time.NewTicker(h.presence.TTL() / 2)
		defer ticker.Stop()
		refresh = ticker.C
	}

	h.log.Info().Int("queue_size", h.cfg.QueueSize).Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			stopCtx := context.WithoutCancel(ctx)
			for _, conn := range h.clients {
				h.remove(stopCtx, conn)
			}
			h.log.Info().Msg("hub stopped")
			return

		case msg := <-h.input:
			h.handle(ctx, msg)

		case <-refresh:
			for id := range h.clients {
				h.markOnline(ctx, id)
			}
		}
	}
}

// Submit queues a worker message, blocking while the queue is full until ctx
// is done.
func (h *Hub) Submit(ctx context.Context, msg WorkerMessage) error {
	select {
	case <-h.done:
		return ErrQueueClosed
	default:
	}

	select {
	case h.input <- msg:
		return nil
	case <-h.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Login(ctx context.Context, userID uuid.UUID, handle Handle) error {
	return h.Submit(ctx, Login{UserID: userID, Handle: handle})
}

func (h *Hub) Shutdown(ctx context.Context, userID uuid.UUID, handle Handle) error {
	return h.Submit(ctx, Shutdown{UserID: userID, Handle: handle})
}

func (h *Hub) Inbound(ctx context.Context, event models.Request) error {
	if event == nil {
		return ErrNilEvent
	}
	return h.Submit(ctx, Inbound{Event: event})
}

// OnlineAmong returns the subset of ids with a live registry entry.
func (h *Hub) OnlineAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	reply := make(chan []uuid.UUID, 1)
	if err := h.Submit(ctx, onlineQuery{ids: ids, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case online := <-reply:
		return online, nil
	case <-h.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Stats() HubStats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

func (h *Hub) count(field *int64) {
	h.statsMu.Lock()
	*field++
	h.statsMu.Unlock()
}

func (h *Hub) handle(ctx context.Context, msg WorkerMessage) {
	switch m := msg.(type) {
	case Login:
		h.login(ctx, m)
	case Shutdown:
		h.shutdown(ctx, m)
	case Inbound:
		if m.Event == nil {
			h.log.Error().Msg("nil inbound event, dropped")
			return
		}
		h.route(ctx, m.Event)
	case onlineQuery:
		online := make([]uuid.UUID, 0, len(m.ids))
		for _, id := range m.ids {
			if _, ok := h.clients[id]; ok {
				online = append(online, id)
			}
		}
		m.reply <- online
	default:
		h.count(&h.stats.UnknownWorkerMessages)
		h.log.Error().Type("message", msg).Msg("unknown worker message")
	}
}

func (h *Hub) login(ctx context.Context, m Login) {
	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	groupIDs, err := h.store.GetGroupIDs(storeCtx, m.UserID)
	cancel()
	if err != nil {
		h.count(&h.stats.LoginFailures)
		h.log.Error().Err(err).Str("user_id", m.UserID.String()).Msg("login aborted, could not load memberships")
		// An unregistered connection could send but never receive.
		if m.Handle != nil {
			m.Handle.Close()
		}
		return
	}

	groups := make(map[uuid.UUID]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = struct{}{}
	}

	stale, replaced := h.clients[m.UserID]
	h.clients[m.UserID] = &activeConnection{userID: m.UserID, groups: groups, handle: m.Handle}
	if replaced && stale.handle != m.Handle {
		stale.handle.Close()
	}

	h.count(&h.stats.Logins)
	h.markOnline(ctx, m.UserID)
	h.log.Info().
		Str("user_id", m.UserID.String()).
		Int("groups", len(groups)).
		Bool("replaced", replaced).
		Msg("user connected")
}

func (h *Hub) shutdown(ctx context.Context, m Shutdown) {
	conn, ok := h.clients[m.UserID]
	if !ok {
		return
	}
	if m.Handle != nil && conn.handle != m.Handle {
		h.log.Debug().Str("user_id", m.UserID.String()).Msg("ignoring shutdown from replaced connection")
		return
	}
	h.remove(ctx, conn)
	h.log.Info().Str("user_id", m.UserID.String()).Msg("user disconnected")
}

func (h *Hub) remove(ctx context.Context, conn *activeConnection) {
	delete(h.clients, conn.userID)
	conn.handle.Close()
	if h.presence != nil {
		pctx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
		defer cancel()
		if err := h.presence.Offline(pctx, conn.userID); err != nil {
			h.log.Warn().Err(err).Msg("presence offline update failed")
		}
	}
}

func (h *Hub) markOnline(ctx context.Context, userID uuid.UUID) {
	if h.presence == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	if err := h.presence.Online(pctx, userID); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("presence online update failed")
	}
}

func (h *Hub) route(ctx context.Context, req models.Request) {
	resp := h.translator.Translate(req)
	log := h.log.With().
		Str("kind", string(resp.Kind())).
		Str("event_id", resp.EventID().String()).
		Logger()

	frame, err := models.EncodeResponse(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response, dropped")
		return
	}

	switch r := resp.(type) {
	case models.DirectChatMessageResponse:
		if !h.pushTo(ctx, r.ReceiverID, frame) {
			h.count(&h.stats.OfflineDrops)
		}
	case models.GroupChatMessageResponse, models.AddItemsResponse, models.RemoveItemsResponse:
		h.fanOut(ctx, r.(models.GroupScoped).Group(), frame)
	case models.JoinGroupResponse:
		h.pushTo(ctx, r.GroupOwnerID, frame)
	case models.ApproveJoinResponse:
		if !h.authorizeApproval(ctx, r, log) {
			return
		}
		h.pushTo(ctx, r.CandidateID, frame)
		if r.Approved {
			// pushTo may have evicted the candidate.
			if conn, ok := h.clients[r.CandidateID]; ok {
				conn.groups[r.GroupID] = struct{}{}
			}
		}
	case models.CreateGroupResponse:
		h.pushTo(ctx, r.SenderID, frame)
	default:
		log.Error().Type("response", resp).Msg("no route for response")
		return
	}

	if !resp.Kind().Durable() {
		return
	}
	if err := h.out.Enqueue(ctx, resp); err != nil {
		h.count(&h.stats.PersistErrors)
		log.Error().Err(err).Msg("failed to forward event to persistence")
		return
	}
	h.count(&h.stats.Persisted)
}

// authorizeApproval checks that the approver owns the group.
func (h *Hub) authorizeApproval(ctx context.Context, r models.ApproveJoinResponse, log zerolog.Logger) bool {
	storeCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	group, err := h.store.GetGroupByID(storeCtx, r.GroupID)
	cancel()

	switch {
	case errors.Is(err, database.ErrNotFound):
		h.count(&h.stats.ApproveGroupNotFound)
		log.Warn().Str("group_id", r.GroupID.String()).Str("cause", "group_not_found").Msg("approval discarded")
		return false
	case err != nil:
		h.count(&h.stats.ApproveLookupFailed)
		log.Error().Err(err).Str("group_id", r.GroupID.String()).Str("cause", "lookup_failed").Msg("approval discarded")
		return false
	case group.OwnerID != r.SenderID:
		h.count(&h.stats.ApproveOwnerMismatch)
		log.Warn().
			Str("group_id", r.GroupID.String()).
			Str("approver", r.SenderID.String()).
			Str("cause", "approver_mismatch").
			Msg("approval discarded")
		return false
	}
	return true
}

// pushTo delivers frame to one user if online. It reports whether the user
// was online; a failed push evicts the user.
func (h *Hub) pushTo(ctx context.Context, userID uuid.UUID, frame []byte) bool {
	conn, ok := h.clients[userID]
	if !ok {
		return false
	}
	h.push(ctx, conn, frame)
	return true
}

func (h *Hub) fanOut(ctx context.Context, groupID uuid.UUID, frame []byte) {
	for _, conn := range h.clients {
		if _, member := conn.groups[groupID]; member {
			h.push(ctx, conn, frame)
		}
	}
}

func (h *Hub) push(ctx context.Context, conn *activeConnection, frame []byte) {
	pctx, cancel := context.WithTimeout(ctx, h.cfg.PushTimeout)
	err := conn.handle.Send(pctx, frame)
	cancel()
	if err != nil {
		h.count(&h.stats.Evicted)
		h.log.Warn().Err(err).Str("user_id", conn.userID.String()).Msg("push failed, evicting")
		h.remove(ctx, conn)
		return
	}
	h.count(&h.stats.Delivered)
}
