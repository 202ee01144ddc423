package services

import (
	"sync"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
)

// Peer is one user's presence in one room. Closing it closes every
// transport, producer and consumer it owns.
type Peer struct {
	ID          domain.PeerID
	RoomID      domain.RoomID
	DisplayName string
	JoinedAt    time.Time

	mu              sync.Mutex
	sessionID       string
	rtpCapabilities *domain.RtpCapabilities
	transports      map[domain.TransportID]*Transport
	producers       map[domain.ProducerID]*Producer
	consumers       map[domain.ConsumerID]*Consumer
	closed          bool
}

func newPeer(roomID domain.RoomID, id domain.PeerID, displayName, sessionID string, caps *domain.RtpCapabilities) *Peer {
	return &Peer{
		ID:              id,
		RoomID:          roomID,
		DisplayName:     displayName,
		JoinedAt:        time.Now(),
		sessionID:       sessionID,
		rtpCapabilities: caps,
		transports:      make(map[domain.TransportID]*Transport),
		producers:       make(map[domain.ProducerID]*Producer),
		consumers:       make(map[domain.ConsumerID]*Consumer),
	}
}

// rebind records a new owning session and returns the previous one when it differs.
func (p *Peer) rebind(sessionID string, caps *domain.RtpCapabilities) (previous string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caps != nil {
		p.rtpCapabilities = caps
	}
	if sessionID == "" || sessionID == p.sessionID {
		return ""
	}
	previous, p.sessionID = p.sessionID, sessionID
	return previous
}

func (p *Peer) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) addTransport(t *Transport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.transports[t.ID] = t
	return true
}

// Transport looks up a transport owned by this peer only.
func (p *Peer) Transport(id domain.TransportID) (*Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[id]
	return t, ok
}

func (p *Peer) addProducer(pr *Producer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.producers[pr.ID] = pr
	return true
}

func (p *Peer) Producer(id domain.ProducerID) (*Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.producers[id]
	return pr, ok
}

func (p *Peer) removeProducer(id domain.ProducerID) (*Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.producers[id]
	delete(p.producers, id)
	return pr, ok
}

func (p *Peer) addConsumer(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.ID] = c
	return true
}

func (p *Peer) Consumer(id domain.ConsumerID) (*Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

func (p *Peer) removeConsumer(id domain.ConsumerID) (*Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	delete(p.consumers, id)
	return c, ok
}

// detachTransport removes a transport together with the producers and
// consumers created on it.
func (p *Peer) detachTransport(id domain.TransportID) (*Transport, []*Producer, []*Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.transports[id]
	if !ok {
		return nil, nil, nil
	}
	delete(p.transports, id)

	var producers []*Producer
	for pid, pr := range p.producers {
		if pr.TransportID == id {
			producers = append(producers, pr)
			delete(p.producers, pid)
		}
	}
	var consumers []*Consumer
	for cid, c := range p.consumers {
		if c.TransportID == id {
			consumers = append(consumers, c)
			delete(p.consumers, cid)
		}
	}
	return t, producers, consumers
}

// detachAll marks the peer closed and hands back everything it owned. The
// caller closes the returned objects outside the peer lock.
func (p *Peer) detachAll() ([]*Transport, []*Producer, []*Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	transports := make([]*Transport, 0, len(p.transports))
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	producers := make([]*Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		producers = append(producers, pr)
	}
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.transports = make(map[domain.TransportID]*Transport)
	p.producers = make(map[domain.ProducerID]*Producer)
	p.consumers = make(map[domain.ConsumerID]*Consumer)
	return transports, producers, consumers
}

// Counts returns the number of live transports, producers and consumers.
func (p *Peer) Counts() (transports, producers, consumers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports), len(p.producers), len(p.consumers)
}

func (p *Peer) Snapshot() domain.PeerSnapshot {
	t, pr, c := p.Counts()
	return domain.PeerSnapshot{
		UserID:      p.ID,
		DisplayName: p.DisplayName,
		JoinedAt:    p.JoinedAt,
		Transports:  t,
		Producers:   pr,
		Consumers:   c,
	}
}

// Transport is the session-side record of a media transport.
type Transport struct {
	ID        domain.TransportID
	Direction domain.Direction
	media     ports.MediaTransport

	mu    sync.Mutex
	state domain.TransportState
}

func (t *Transport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState applies a transition and reports whether it changed anything.
// closed is terminal.
func (t *Transport) setState(s domain.TransportState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == s || t.state == domain.TransportClosed {
		return false
	}
	t.state = s
	return true
}

// beginConnect moves new -> connecting; any other starting state fails.
func (t *Transport) beginConnect() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.TransportNew {
		return false
	}
	t.state = domain.TransportConnecting
	return true
}

func (t *Transport) close() error {
	t.setState(domain.TransportClosed)
	return t.media.Close()
}

// Producer is an inbound media stream. Consumers created from it are listed
// as subscribers so that closing it can close them.
type Producer struct {
	ID            domain.ProducerID
	Kind          domain.MediaKind
	Owner         domain.PeerID
	TransportID   domain.TransportID
	RouterCodec   domain.RtpCodecCapability
	RtpParameters domain.RtpParameters
	media         ports.MediaProducer

	mu          sync.Mutex
	paused      bool
	closed      bool
	subscribers map[domain.ConsumerID]*Consumer
}

func newProducer(id domain.ProducerID, owner domain.PeerID, t *Transport, kind domain.MediaKind,
	params domain.RtpParameters, codec domain.RtpCodecCapability, media ports.MediaProducer) *Producer {
	return &Producer{
		ID:            id,
		Kind:          kind,
		Owner:         owner,
		TransportID:   t.ID,
		RouterCodec:   codec,
		RtpParameters: params,
		media:         media,
		subscribers:   make(map[domain.ConsumerID]*Consumer),
	}
}

func (p *Producer) Info() domain.ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ProducerInfo{ProducerID: p.ID, UserID: p.Owner, Kind: p.Kind, Paused: p.paused}
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// addSubscriber fails once the producer is closed.
func (p *Producer) addSubscriber(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.subscribers[c.ID] = c
	c.setProducerPaused(p.paused)
	return true
}

func (p *Producer) removeSubscriber(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, id)
}

func (p *Producer) Subscribers() []*Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Consumer, 0, len(p.subscribers))
	for _, c := range p.subscribers {
		out = append(out, c)
	}
	return out
}

// setPaused flips the paused flag on the producer and its subscribers.
func (p *Producer) setPaused(paused bool) (changed bool, subscribers []*Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.paused == paused {
		return false, nil
	}
	p.paused = paused
	for _, c := range p.subscribers {
		c.setProducerPaused(paused)
		subscribers = append(subscribers, c)
	}
	return true, subscribers
}

// close marks the producer closed and returns its subscribers, which the
// caller must close. Repeated calls return nil.
func (p *Producer) close() []*Consumer {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := make([]*Consumer, 0, len(p.subscribers))
	for _, c := range p.subscribers {
		subs = append(subs, c)
	}
	p.subscribers = make(map[domain.ConsumerID]*Consumer)
	p.mu.Unlock()

	_ = p.media.Close()
	return subs
}

// Consumer is an outbound copy of a producer toward one peer. It starts
// paused and only forwards media after an explicit resume.
type Consumer struct {
	ID            domain.ConsumerID
	ProducerID    domain.ProducerID
	Owner         domain.PeerID
	TransportID   domain.TransportID
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	media         ports.MediaConsumer

	mu             sync.Mutex
	paused         bool
	producerPaused bool
	closed         bool
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

func (c *Consumer) setProducerPaused(v bool) {
	c.mu.Lock()
	c.producerPaused = v
	c.mu.Unlock()
}

func (c *Consumer) setPaused(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConsumerNotFound
	}
	if c.paused == v {
		return nil
	}
	var err error
	if v {
		err = c.media.Pause()
	} else {
		err = c.media.Resume()
	}
	if err != nil {
		return err
	}
	c.paused = v
	return nil
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.media.Close()
	return true
}
