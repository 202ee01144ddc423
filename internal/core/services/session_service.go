package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/tracing"
	"voxsfu/pkg/utils"
	"voxsfu/pkg/validation"

	"go.uber.org/zap"
)

// Server-pushed event names.
const (
	EventNewProducer     = "new-producer"
	EventProducerClosed  = "producer-closed"
	EventProducerPaused  = "producer-paused"
	EventProducerResumed = "producer-resumed"
	EventConsumerClosed  = "consumer-closed"
	EventPeerJoined      = "peer-joined"
	EventPeerLeft        = "peer-left"
)

const maxJoinAttempts = 8

type ProducerEvent struct {
	RoomID     domain.RoomID     `json:"roomId"`
	ProducerID domain.ProducerID `json:"producerId"`
	UserID     domain.UserID     `json:"userId"`
	Kind       domain.MediaKind  `json:"kind,omitempty"`
}

type ConsumerClosedEvent struct {
	RoomID     domain.RoomID     `json:"roomId"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type PeerEvent struct {
	RoomID      domain.RoomID `json:"roomId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

// SessionService runs the peer/transport/producer/consumer lifecycle on
// top of the room registry.
type SessionService struct {
	registry *RoomRegistry
	profiles ports.ProfileRepository
	notifier ports.PeerNotifier
	events   ports.RoomEventPublisher
	nodeID   string
	logger   *zap.SugaredLogger

	// Test hooks, run after the first half of linking a new object.
	producerAddedHook func(*Producer)
	subscribedHook    func(*Consumer)
}

type SessionServiceOption func(*SessionService)

func WithEventPublisher(p ports.RoomEventPublisher) SessionServiceOption {
	return func(s *SessionService) { s.events = p }
}

func WithNodeID(id string) SessionServiceOption {
	return func(s *SessionService) { s.nodeID = id }
}

func NewSessionService(
	registry *RoomRegistry,
	profiles ports.ProfileRepository,
	notifier ports.PeerNotifier,
	logger *zap.SugaredLogger,
	opts ...SessionServiceOption,
) *SessionService {
	s := &SessionService{
		registry: registry,
		profiles: profiles,
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	registry.OnRoomLifecycle(
		func(room *Room) { s.publish(domain.RoomEventCreated, room.ID, "") },
		func(room *Room) { s.publish(domain.RoomEventClosed, room.ID, "") },
	)
	return s
}

func (s *SessionService) Registry() *RoomRegistry { return s.registry }

func (s *SessionService) publish(t domain.RoomEventType, roomID domain.RoomID, userID domain.UserID) {
	if s.events == nil {
		return
	}
	ev := domain.RoomEvent{Type: t, RoomID: roomID, UserID: userID, NodeID: s.nodeID, Timestamp: time.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warnw("failed to publish room event", "type", t, "room_id", roomID, "error", err)
	}
}

// notifyRoom sends event to every member of room except the excluded peer.
func (s *SessionService) notifyRoom(room *Room, exclude domain.PeerID, event string, payload interface{}) {
	for _, p := range room.Peers() {
		if p.ID == exclude {
			continue
		}
		s.notifier.NotifyPeer(room.ID, p.ID, event, payload)
	}
}

func (s *SessionService) resolveDisplayName(ctx context.Context, id domain.Identity) string {
	name, err := s.profiles.GetDisplayName(ctx, id.UserID)
	if err != nil {
		s.logger.Debugw("display name lookup failed, using token name", "user_id", id.UserID, "error", err)
	}
	name = utils.SanitizeString(name)
	if validation.ValidateDisplayName(name) != nil {
		name = utils.TruncateString(utils.FirstNonEmpty(utils.SanitizeString(id.Username), string(id.UserID)), validation.MaxDisplayNameLength)
	}
	return name
}

// Join admits a user to a room, creating the room on first use. Joining a
// room the user is already in returns the existing peer.
func (s *SessionService) Join(ctx context.Context, req ports.JoinRequest) (*ports.JoinResult, error) {
	if err := validation.ValidateRoomID(string(req.RoomID)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	displayName := s.resolveDisplayName(ctx, req.Identity)

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, _, err := s.registry.GetOrCreateRoom(ctx, req.RoomID)
		if err != nil {
			return nil, err
		}

		peer := newPeer(room.ID, req.Identity.UserID, displayName, req.SessionID, req.RtpCapabilities)
		existing, replaced, err := room.addPeer(peer)
		if errors.Is(err, errRoomClosed) {
			s.logger.Debugw("room closed during join, retrying", "room_id", req.RoomID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		result := &ports.JoinResult{
			RouterRtpCapabilities: room.Router.RtpCapabilities(),
			Producers:             room.ProducerInfos(req.Identity.UserID),
		}
		if existing != nil {
			result.DisplayName = existing.DisplayName
			result.Replaced = replaced
			s.logger.Infow("peer rejoined", "room_id", room.ID, "peer_id", existing.ID, "replaced_session", result.Replaced != "")
			return result, nil
		}

		result.DisplayName = peer.DisplayName
		s.logger.Infow("peer joined", "room_id", room.ID, "peer_id", peer.ID, "display_name", peer.DisplayName)
		s.notifyRoom(room, peer.ID, EventPeerJoined, PeerEvent{RoomID: room.ID, UserID: peer.ID, DisplayName: peer.DisplayName})
		s.publish(domain.RoomEventPeerJoined, room.ID, peer.ID)
		return result, nil
	}
	return nil, fmt.Errorf("%w: room %s kept closing during join", domain.ErrRoomUnavailable, req.RoomID)
}

// Leave closes the peer and everything it owns, then drops the room if it
// became empty. A second leave reports PeerNotFound or RoomNotFound.
func (s *SessionService) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return s.leave(roomID, userID, "")
}

// LeaveSession is Leave for a disconnecting connection: it does nothing if
// another session has taken the peer over.
func (s *SessionService) LeaveSession(ctx context.Context, roomID domain.RoomID, userID domain.UserID, sessionID string) error {
	return s.leave(roomID, userID, sessionID)
}

func (s *SessionService) leave(roomID domain.RoomID, userID domain.UserID, sessionID string) error {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return err
	}
	peer, roomEmptied := s.registry.RemovePeerAndMaybeCloseRoom(roomID, userID, sessionID)
	if peer == nil {
		if roomEmptied {
			s.registry.closeRoomRouter(room)
		}
		return fmt.Errorf("%w: %s", domain.ErrPeerNotFound, userID)
	}

	s.closePeer(room, peer)
	s.notifyRoom(room, peer.ID, EventPeerLeft, PeerEvent{RoomID: room.ID, UserID: peer.ID, DisplayName: peer.DisplayName})
	s.publish(domain.RoomEventPeerLeft, room.ID, peer.ID)
	s.logger.Infow("peer left", "room_id", roomID, "peer_id", userID, "room_closed", roomEmptied)

	if roomEmptied {
		s.registry.closeRoomRouter(room)
	}
	return nil
}

// closePeer tears down everything a removed peer owned and informs the
// owners of consumers that depended on its producers.
func (s *SessionService) closePeer(room *Room, peer *Peer) {
	transports, producers, consumers := peer.detachAll()

	for _, c := range consumers {
		s.dropConsumer(room, c, false)
	}
	for _, pr := range producers {
		s.dropProducer(room, pr)
	}
	for _, t := range transports {
		if err := t.close(); err != nil {
			s.logger.Warnw("failed to close transport", "room_id", room.ID, "peer_id", peer.ID, "transport_id", t.ID, "error", err)
		}
	}
}

// dropProducer closes a producer already detached from its owner, then
// closes every consumer of it and tells their owners.
func (s *SessionService) dropProducer(room *Room, pr *Producer) {
	room.unindexProducer(pr.ID)
	for _, c := range pr.close() {
		if owner, ok := room.Peer(c.Owner); ok {
			owner.removeConsumer(c.ID)
		}
		s.dropConsumer(room, c, true)
	}
	s.notifyRoom(room, pr.Owner, EventProducerClosed, ProducerEvent{RoomID: room.ID, ProducerID: pr.ID, UserID: pr.Owner, Kind: pr.Kind})
}

// dropConsumer closes a consumer already detached from its owner and
// unlinks it from the producer. notify tells the owner.
func (s *SessionService) dropConsumer(room *Room, c *Consumer, notify bool) {
	if pr, ok := room.Producer(c.ProducerID); ok {
		pr.removeSubscriber(c.ID)
	}
	if !c.close() || !notify {
		return
	}
	s.notifier.NotifyPeer(room.ID, c.Owner, EventConsumerClosed, ConsumerClosedEvent{
		RoomID: room.ID, ConsumerID: c.ID, ProducerID: c.ProducerID,
	})
}

func (s *SessionService) lookupPeer(roomID domain.RoomID, userID domain.UserID) (*Room, *Peer, error) {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return nil, nil, err
	}
	peer, ok := room.Peer(userID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, userID)
	}
	return room, peer, nil
}

// CreateTransport opens a send or recv transport for a joined peer.
func (s *SessionService) CreateTransport(ctx context.Context, roomID domain.RoomID, userID domain.UserID, dir domain.Direction) (domain.TransportParams, error) {
	if !dir.Valid() {
		return domain.TransportParams{}, fmt.Errorf("%w: direction must be send or recv", domain.ErrInvalidRequest)
	}
	room, peer, err := s.lookupPeer(roomID, userID)
	if err != nil {
		return domain.TransportParams{}, err
	}

	ctx, span := tracing.TraceMediaOp(ctx, "create_transport", string(roomID))
	defer span.End()

	id := domain.TransportID(utils.NewTransportID())
	media, err := room.Router.CreateTransport(ctx, id, dir)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.TransportParams{}, fmt.Errorf("create transport: %w", err)
	}

	t := &Transport{ID: id, Direction: dir, media: media, state: domain.TransportNew}
	media.OnStateChange(func(state domain.TransportState) {
		s.onTransportState(room, peer, t, state)
	})

	if !peer.addTransport(t) {
		_ = media.Close()
		return domain.TransportParams{}, fmt.Errorf("%w: %s left", domain.ErrPeerNotFound, userID)
	}

	s.logger.Infow("transport created", "room_id", roomID, "peer_id", userID, "transport_id", id, "direction", dir)
	return media.Params(), nil
}

func (s *SessionService) onTransportState(room *Room, peer *Peer, t *Transport, state domain.TransportState) {
	if state == domain.TransportClosed {
		s.closeTransport(room, peer, t.ID)
		return
	}
	if t.setState(state) {
		s.logger.Infow("transport state changed", "room_id", room.ID, "peer_id", peer.ID, "transport_id", t.ID, "state", state)
	}
}

// closeTransport handles a transport that failed on the media plane.
func (s *SessionService) closeTransport(room *Room, peer *Peer, id domain.TransportID) {
	t, producers, consumers := peer.detachTransport(id)
	if t == nil {
		return
	}
	for _, c := range consumers {
		s.dropConsumer(room, c, true)
	}
	for _, pr := range producers {
		s.dropProducer(room, pr)
	}
	_ = t.close()
	s.logger.Warnw("transport closed by media engine", "room_id", room.ID, "peer_id", peer.ID, "transport_id", id)
}

// ConnectTransport hands the client's ICE and DTLS parameters to the transport.
func (s *SessionService) ConnectTransport(ctx context.Context, roomID domain.RoomID, userID domain.UserID, transportID domain.TransportID, remote domain.RemoteTransportParams) error {
	_, peer, err := s.lookupPeer(roomID, userID)
	if err != nil {
		return err
	}
	t, ok := peer.Transport(transportID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	if len(remote.DtlsParameters.Fingerprints) == 0 {
		return fmt.Errorf("%w: dtlsParameters.fingerprints is required", domain.ErrInvalidRequest)
	}
	if !t.beginConnect() {
		return fmt.Errorf("%w: transport %s is %s", domain.ErrInvalidRequest, transportID, t.State())
	}

	ctx, span := tracing.TraceMediaOp(ctx, "connect_transport", string(roomID))
	defer span.End()

	if err := t.media.Connect(ctx, remote); err != nil {
		tracing.RecordError(ctx, err)
		t.setState(domain.TransportNew)
		return fmt.Errorf("connect transport: %w", err)
	}
	if peer.Closed() {
		return fmt.Errorf("%w: %s left", domain.ErrPeerNotFound, userID)
	}
	s.logger.Infow("transport connecting", "room_id", roomID, "peer_id", userID, "transport_id", transportID)
	return nil
}

// Produce starts receiving media on a connected send transport and announces it to the room.
func (s *SessionService) Produce(ctx context.Context, req ports.ProduceRequest) (domain.ProducerID, error) {
	room, peer, err := s.lookupPeer(req.RoomID, req.UserID)
	if err != nil {
		return "", err
	}
	t, ok := peer.Transport(req.TransportID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrTransportNotFound, req.TransportID)
	}
	if t.Direction != domain.DirectionSend {
		return "", fmt.Errorf("%w: transport %s is not a send transport", domain.ErrInvalidRequest, t.ID)
	}
	if st := t.State(); st != domain.TransportConnecting && st != domain.TransportConnected {
		return "", fmt.Errorf("%w: transport %s is %s", domain.ErrInvalidRequest, t.ID, st)
	}

	codec, err := domain.ValidateProduce(room.Router.RtpCapabilities(), req.Kind, req.RtpParameters)
	if err != nil {
		return "", err
	}

	ctx, span := tracing.TraceMediaOp(ctx, "produce", string(req.RoomID))
	defer span.End()

	id := domain.ProducerID(utils.NewProducerID())
	media, err := t.media.Produce(ctx, ports.ProduceOptions{
		ID:            id,
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
		RouterCodec:   codec,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("produce: %w", err)
	}

	pr := newProducer(id, peer.ID, t, req.Kind, req.RtpParameters, codec, media)
	if !peer.addProducer(pr) {
		_ = media.Close()
		return "", fmt.Errorf("%w: %s left", domain.ErrPeerNotFound, req.UserID)
	}
	if s.producerAddedHook != nil {
		s.producerAddedHook(pr)
	}
	room.indexProducer(pr)
	// A leave that ran since addProducer has already unindexed the producer.
	if pr.Closed() || peer.Closed() {
		room.unindexProducer(pr.ID)
		return "", fmt.Errorf("%w: %s left", domain.ErrPeerNotFound, req.UserID)
	}

	s.logger.Infow("producer created", "room_id", req.RoomID, "peer_id", req.UserID, "producer_id", id, "kind", req.Kind, "codec", codec.MimeType)
	s.notifyRoom(room, peer.ID, EventNewProducer, ProducerEvent{RoomID: room.ID, ProducerID: id, UserID: peer.ID, Kind: req.Kind})
	return id, nil
}

// Consume creates a paused consumer of another peer's producer on a recv transport.
func (s *SessionService) Consume(ctx context.Context, req ports.ConsumeRequest) (*ports.ConsumeResult, error) {
	room, peer, err := s.lookupPeer(req.RoomID, req.UserID)
	if err != nil {
		return nil, err
	}
	t, ok := peer.Transport(req.TransportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, req.TransportID)
	}
	if t.Direction != domain.DirectionRecv {
		return nil, fmt.Errorf("%w: transport %s is not a recv transport", domain.ErrInvalidRequest, t.ID)
	}
	pr, ok := room.Producer(req.ProducerID)
	if !ok || pr.Closed() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, req.ProducerID)
	}

	params, err := domain.ConsumerRtpParameters(pr.RouterCodec, req.RtpCapabilities, rand.Uint32()|1, string(pr.Owner))
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.TraceMediaOp(ctx, "consume", string(req.RoomID))
	defer span.End()

	id := domain.ConsumerID(utils.NewConsumerID())
	media, err := t.media.Consume(ctx, ports.ConsumeOptions{
		ID:            id,
		Producer:      pr.media,
		Kind:          pr.Kind,
		RtpParameters: params,
		Paused:        true,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("consume: %w", err)
	}

	c := &Consumer{
		ID:            id,
		ProducerID:    pr.ID,
		Owner:         peer.ID,
		TransportID:   t.ID,
		Kind:          pr.Kind,
		RtpParameters: params,
		media:         media,
		paused:        true,
	}
	if !pr.addSubscriber(c) {
		_ = media.Close()
		return nil, fmt.Errorf("%w: %s closed", domain.ErrProducerNotFound, req.ProducerID)
	}
	if s.subscribedHook != nil {
		s.subscribedHook(c)
	}
	if !peer.addConsumer(c) {
		pr.removeSubscriber(c.ID)
		c.close()
		return nil, fmt.Errorf("%w: %s left", domain.ErrPeerNotFound, req.UserID)
	}
	// A producer closed since addSubscriber could not reach c through the peer.
	if c.Closed() || pr.Closed() {
		peer.removeConsumer(c.ID)
		pr.removeSubscriber(c.ID)
		c.close()
		return nil, fmt.Errorf("%w: %s closed", domain.ErrProducerNotFound, req.ProducerID)
	}

	s.logger.Infow("consumer created", "room_id", req.RoomID, "peer_id", req.UserID, "consumer_id", id, "producer_id", pr.ID)
	return &ports.ConsumeResult{
		ID:            id,
		ProducerID:    pr.ID,
		Kind:          pr.Kind,
		RtpParameters: params,
		Paused:        true,
	}, nil
}

func (s *SessionService) consumer(roomID domain.RoomID, userID domain.UserID, id domain.ConsumerID) (*Consumer, error) {
	_, peer, err := s.lookupPeer(roomID, userID)
	if err != nil {
		return nil, err
	}
	c, ok := peer.Consumer(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConsumerNotFound, id)
	}
	return c, nil
}

// ResumeConsumer starts media flow on a consumer. Media still waits for the
// producer if the producer is paused.
func (s *SessionService) ResumeConsumer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ConsumerID) error {
	c, err := s.consumer(roomID, userID, id)
	if err != nil {
		return err
	}
	return c.setPaused(false)
}

func (s *SessionService) PauseConsumer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ConsumerID) error {
	c, err := s.consumer(roomID, userID, id)
	if err != nil {
		return err
	}
	return c.setPaused(true)
}

func (s *SessionService) ownProducer(roomID domain.RoomID, userID domain.UserID, id domain.ProducerID) (*Room, *Producer, error) {
	room, peer, err := s.lookupPeer(roomID, userID)
	if err != nil {
		return nil, nil, err
	}
	pr, ok := peer.Producer(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, id)
	}
	return room, pr, nil
}

// PauseProducer mutes a producer for every consumer at once.
func (s *SessionService) PauseProducer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ProducerID) error {
	return s.setProducerPaused(roomID, userID, id, true)
}

func (s *SessionService) ResumeProducer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ProducerID) error {
	return s.setProducerPaused(roomID, userID, id, false)
}

func (s *SessionService) setProducerPaused(roomID domain.RoomID, userID domain.UserID, id domain.ProducerID, paused bool) error {
	room, pr, err := s.ownProducer(roomID, userID, id)
	if err != nil {
		return err
	}

	if paused {
		err = pr.media.Pause()
	} else {
		err = pr.media.Resume()
	}
	if err != nil {
		return fmt.Errorf("set producer paused: %w", err)
	}
	changed, _ := pr.setPaused(paused)
	if !changed {
		return nil
	}

	event := EventProducerResumed
	if paused {
		event = EventProducerPaused
	}
	s.logger.Infow("producer pause changed", "room_id", roomID, "peer_id", userID, "producer_id", id, "paused", paused)
	s.notifyRoom(room, userID, event, ProducerEvent{RoomID: roomID, ProducerID: id, UserID: userID, Kind: pr.Kind})
	return nil
}

func (s *SessionService) CloseProducer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, id domain.ProducerID) error {
	room, peer, err := s.lookupPeer(roomID, userID)
	if err != nil {
		return err
	}
	pr, ok := peer.removeProducer(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProducerNotFound, id)
	}
	s.dropProducer(room, pr)
	s.logger.Infow("producer closed", "room_id", roomID, "peer_id", userID, "producer_id", id)
	return nil
}

// PeerSession reports the session currently bound to a peer, or "" if the
// peer is not in the room.
func (s *SessionService) PeerSession(roomID domain.RoomID, userID domain.UserID) string {
	_, peer, err := s.lookupPeer(roomID, userID)
	if err != nil {
		return ""
	}
	return peer.SessionID()
}

// RoomExists reports whether the room is currently open.
func (s *SessionService) RoomExists(roomID domain.RoomID) bool {
	_, err := s.registry.GetRoom(roomID)
	return err == nil
}

var _ ports.SessionService = (*SessionService)(nil)
