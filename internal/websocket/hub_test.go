package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeHandle struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (f *fakeHandle) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeStore struct {
	memberships map[uuid.UUID][]uuid.UUID
	groups      map[uuid.UUID]*models.Group
	groupErr    error
	idsErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships: map[uuid.UUID][]uuid.UUID{},
		groups:      map[uuid.UUID]*models.Group{},
	}
}

func (s *fakeStore) GetGroupIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if s.idsErr != nil {
		return nil, s.idsErr
	}
	return s.memberships[userID], nil
}

func (s *fakeStore) GetGroupByID(_ context.Context, groupID uuid.UUID) (*models.Group, error) {
	if s.groupErr != nil {
		return nil, s.groupErr
	}
	g, ok := s.groups[groupID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return g, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.Response
}

func (s *fakeSink) Enqueue(_ context.Context, resp models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, resp)
	return nil
}

func (s *fakeSink) enqueued() []models.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

type fakePresence struct {
	online map[uuid.UUID]bool
}

func (p *fakePresence) Online(_ context.Context, id uuid.UUID) error {
	p.online[id] = true
	return nil
}

func (p *fakePresence) Offline(_ context.Context, id uuid.UUID) error {
	delete(p.online, id)
	return nil
}

func (p *fakePresence) TTL() time.Duration { return 0 }

type hubFixture struct {
	hub   *Hub
	store *fakeStore
	sink  *fakeSink
}

func newFixture(t *testing.T) *hubFixture {
	t.Helper()
	store := newFakeStore()
	sink := &fakeSink{}
	hub := NewHub(HubConfig{QueueSize: 8, StoreTimeout: time.Second, PushTimeout: time.Second}, store, sink, nil)
	return &hubFixture{hub: hub, store: store, sink: sink}
}

func (f *hubFixture) login(userID uuid.UUID, groups ...uuid.UUID) *fakeHandle {
	f.store.memberships[userID] = groups
	h := &fakeHandle{}
	f.hub.handle(context.Background(), Login{UserID: userID, Handle: h})
	return h
}

func (f *hubFixture) inbound(req models.Request) {
	f.hub.handle(context.Background(), Inbound{Event: req})
}

func TestGroupFanOutReachesOnlyMembers(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	h1 := f.login(u1, g)
	h2 := f.login(u2, g)
	h3 := f.login(u3)

	f.inbound(models.GroupChatMessageRequest{SenderID: u1, GroupID: g, Message: "hi"})

	assert.Len(t, h1.received(), 1)
	assert.Len(t, h2.received(), 1)
	assert.Empty(t, h3.received())

	require.Len(t, f.sink.enqueued(), 1)
	assert.Equal(t, models.KindGroupChat, f.sink.enqueued()[0].Kind())
}

func TestFanOutEvictsFailingRecipientAndContinues(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	h1 := f.login(u1, g)
	h2 := f.login(u2, g)
	h3 := f.login(u3, g)
	h2.sendErr = errors.New("broken pipe")

	f.inbound(models.AddItemsRequest{SenderID: u1, GroupID: g})

	assert.Len(t, h1.received(), 1)
	assert.Len(t, h3.received(), 1)
	assert.True(t, h2.isClosed())
	assert.NotContains(t, f.hub.clients, u2)
	assert.Contains(t, f.hub.clients, u1)
	assert.Contains(t, f.hub.clients, u3)
	assert.EqualValues(t, 1, f.hub.Stats().Evicted)

	// the evicted user no longer receives
	f.inbound(models.RemoveItemsMessage{SenderID: u1, GroupID: g, Items: []uuid.UUID{uuid.New()}})
	assert.Len(t, h1.received(), 2)
	assert.Len(t, f.sink.enqueued(), 2)
}

func TestDirectChatDelivery(t *testing.T) {
	f := newFixture(t)
	sender, receiver := uuid.New(), uuid.New()
	hs := f.login(sender)
	hr := f.login(receiver)

	f.inbound(models.DirectChatMessageRequest{SenderID: sender, ReceiverID: receiver, Message: "psst"})

	require.Len(t, hr.received(), 1)
	assert.Empty(t, hs.received())
	frame := hr.received()[0]
	assert.Equal(t, "direct_chat_message", gjson.GetBytes(frame, "type").String())
	assert.Equal(t, "psst", gjson.GetBytes(frame, "data.message").String())
	assert.Len(t, f.sink.enqueued(), 1)
}

func TestDirectChatOfflineStillPersisted(t *testing.T) {
	f := newFixture(t)
	sender := uuid.New()
	hs := f.login(sender)

	f.inbound(models.DirectChatMessageRequest{SenderID: sender, ReceiverID: uuid.New(), Message: "anyone?"})

	assert.Empty(t, hs.received())
	require.Len(t, f.sink.enqueued(), 1)
	assert.IsType(t, models.DirectChatMessageResponse{}, f.sink.enqueued()[0])
	assert.EqualValues(t, 1, f.hub.Stats().OfflineDrops)
}

func TestJoinGroupGoesOnlyToOwner(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	owner, candidate, other := uuid.New(), uuid.New(), uuid.New()
	ho := f.login(owner, g)
	hc := f.login(candidate)
	hx := f.login(other, g)

	f.inbound(models.JoinGroupRequest{SenderID: candidate, GroupOwnerID: owner, GroupID: g})

	assert.Len(t, ho.received(), 1)
	assert.Empty(t, hc.received())
	assert.Empty(t, hx.received())
	assert.Empty(t, f.sink.enqueued())
}

func TestApproveJoinOwnerMismatchIsDiscarded(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	owner, impostor, candidate := uuid.New(), uuid.New(), uuid.New()
	f.store.groups[g] = &models.Group{ID: g, OwnerID: owner}
	hc := f.login(candidate)

	f.inbound(models.ApproveJoin{CandidateID: candidate, SenderID: impostor, Approved: true, GroupID: g})

	assert.Empty(t, hc.received())
	assert.Empty(t, f.sink.enqueued())
	assert.NotContains(t, f.hub.clients[candidate].groups, g)
	assert.EqualValues(t, 1, f.hub.Stats().ApproveOwnerMismatch)
}

func TestApproveJoinByOwnerGrantsMembership(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	owner, candidate, bystander := uuid.New(), uuid.New(), uuid.New()
	f.store.groups[g] = &models.Group{ID: g, OwnerID: owner}
	f.login(owner, g)
	hc := f.login(candidate)
	hb := f.login(bystander)

	f.inbound(models.ApproveJoin{CandidateID: candidate, SenderID: owner, Approved: true, GroupID: g})

	assert.Len(t, hc.received(), 1)
	assert.Empty(t, hb.received())
	assert.Empty(t, f.sink.enqueued(), "approvals are not durable")
	assert.Contains(t, f.hub.clients[candidate].groups, g)

	// the new member now takes part in group fan-out
	f.inbound(models.GroupChatMessageRequest{SenderID: owner, GroupID: g, Message: "welcome"})
	assert.Len(t, hc.received(), 2)
}

func TestApproveJoinRejectedLeavesMembership(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	owner, candidate := uuid.New(), uuid.New()
	f.store.groups[g] = &models.Group{ID: g, OwnerID: owner}
	hc := f.login(candidate)

	f.inbound(models.ApproveJoin{CandidateID: candidate, SenderID: owner, Approved: false, GroupID: g})

	assert.Len(t, hc.received(), 1)
	assert.NotContains(t, f.hub.clients[candidate].groups, g)
}

func TestApproveJoinLookupFailures(t *testing.T) {
	f := newFixture(t)
	candidate := uuid.New()
	hc := f.login(candidate)

	f.inbound(models.ApproveJoin{CandidateID: candidate, SenderID: uuid.New(), Approved: true, GroupID: uuid.New()})
	assert.EqualValues(t, 1, f.hub.Stats().ApproveGroupNotFound)

	f.store.groupErr = errors.New("timeout")
	f.inbound(models.ApproveJoin{CandidateID: candidate, SenderID: uuid.New(), Approved: true, GroupID: uuid.New()})
	assert.EqualValues(t, 1, f.hub.Stats().ApproveLookupFailed)

	assert.Empty(t, hc.received())
	assert.Empty(t, f.sink.enqueued())
}

func TestNonDurableKindsNeverReachPersistence(t *testing.T) {
	f := newFixture(t)
	g := uuid.New()
	owner, candidate := uuid.New(), uuid.New()
	f.store.groups[g] = &models.Group{ID: g, OwnerID: owner}
	ho := f.login(owner, g)
	f.login(candidate)

	f.inbound(models.CreateGroupRequest{SenderID: owner, GroupID: g, Name: "flat"})
	f.inbound(models.JoinGroupRequest{SenderID: candidate, GroupOwnerID: owner, GroupID: g})
	f.inbound(models.ApproveJoin{CandidateID: candidate, SenderID: owner, Approved: true, GroupID: g})

	assert.Len(t, ho.received(), 2, "create ack and join request")
	assert.Empty(t, f.sink.enqueued())
}

func TestLoginFailureLeavesUserOffline(t *testing.T) {
	f := newFixture(t)
	f.store.idsErr = errors.New("db down")
	u := uuid.New()

	h := &fakeHandle{}
	f.hub.handle(context.Background(), Login{UserID: u, Handle: h})

	assert.NotContains(t, f.hub.clients, u)
	assert.EqualValues(t, 1, f.hub.Stats().LoginFailures)
	assert.True(t, h.isClosed(), "connection without a registry entry is closed")
}

func TestNilInboundEventIsRejected(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.hub.Inbound(context.Background(), nil), ErrNilEvent)
	assert.NotPanics(t, func() {
		f.hub.handle(context.Background(), Inbound{Event: nil})
	})
	assert.Empty(t, f.sink.enqueued())
}

func TestReloginClosesStaleHandle(t *testing.T) {
	f := newFixture(t)
	u := uuid.New()
	first := f.login(u)
	second := f.login(u)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Same(t, second, f.hub.clients[u].handle)

	// a late shutdown from the first connection must not remove the second
	f.hub.handle(context.Background(), Shutdown{UserID: u, Handle: first})
	assert.Contains(t, f.hub.clients, u)

	f.hub.handle(context.Background(), Shutdown{UserID: u, Handle: second})
	assert.NotContains(t, f.hub.clients, u)
}

func TestShutdownUnknownUserIsNoop(t *testing.T) {
	f := newFixture(t)
	f.hub.handle(context.Background(), Shutdown{UserID: uuid.New()})
	assert.Empty(t, f.hub.clients)
}

func TestPresenceSinkTracksRegistry(t *testing.T) {
	store := newFakeStore()
	presence := &fakePresence{online: map[uuid.UUID]bool{}}
	hub := NewHub(HubConfig{QueueSize: 1, StoreTimeout: time.Second, PushTimeout: time.Second}, store, &fakeSink{}, presence)

	u := uuid.New()
	h := &fakeHandle{}
	hub.handle(context.Background(), Login{UserID: u, Handle: h})
	assert.True(t, presence.online[u])

	hub.handle(context.Background(), Shutdown{UserID: u})
	assert.False(t, presence.online[u])
}

func TestRunServesQueueAndOnlineQueries(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.hub.Run(ctx)
		close(stopped)
	}()

	u1, u2 := uuid.New(), uuid.New()
	h1 := &fakeHandle{}
	require.NoError(t, f.hub.Login(ctx, u1, h1))

	online, err := f.hub.OnlineAmong(ctx, []uuid.UUID{u1, u2})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u1}, online)

	cancel()
	<-stopped

	assert.True(t, h1.isClosed(), "handles are closed when the hub stops")
	assert.Empty(t, f.hub.clients)
	assert.ErrorIs(t, f.hub.Inbound(context.Background(), models.GroupChatMessageRequest{SenderID: u1, GroupID: uuid.New()}), ErrQueueClosed)
}

func TestRunStopMarksUsersOffline(t *testing.T) {
	presence := &fakePresence{online: map[uuid.UUID]bool{}}
	hub := NewHub(HubConfig{QueueSize: 4, StoreTimeout: time.Second, PushTimeout: time.Second}, newFakeStore(), &fakeSink{}, presence)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	u1, u2 := uuid.New(), uuid.New()
	require.NoError(t, hub.Login(ctx, u1, &fakeHandle{}))
	require.NoError(t, hub.Login(ctx, u2, &fakeHandle{}))
	online, err := hub.OnlineAmong(ctx, []uuid.UUID{u1, u2})
	require.NoError(t, err)
	require.Len(t, online, 2)

	cancel()
	<-stopped

	assert.Empty(t, presence.online)
}

func TestSubmitBlocksWhenQueueFull(t *testing.T) {
	hub := NewHub(HubConfig{QueueSize: 1, StoreTimeout: time.Second, PushTimeout: time.Second}, newFakeStore(), &fakeSink{}, nil)
	require.NoError(t, hub.Shutdown(context.Background(), uuid.New(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Shutdown(ctx, uuid.New(), nil), context.DeadlineExceeded)
}
