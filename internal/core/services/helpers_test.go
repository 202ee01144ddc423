package services

import (
	"context"
	"sync"
	"testing"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/internal/engine/memory"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetDisplayName(ctx context.Context, userID domain.UserID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.RoomEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type notification struct {
	RoomID  domain.RoomID
	UserID  domain.UserID
	Event   string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) NotifyPeer(roomID domain.RoomID, userID domain.UserID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{roomID, userID, event, payload})
}

func (n *recordingNotifier) For(userID domain.UserID, event string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, e := range n.events {
		if e.UserID == userID && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func testCodecs() []domain.RtpCodecCapability {
	return []domain.RtpCodecCapability{
		{
			Kind: domain.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 111,
			ClockRate: 48000, Channels: 2,
			Parameters: map[string]interface{}{"useinbandfec": float64(1)},
		},
		{
			Kind: domain.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 96, ClockRate: 90000,
			RtcpFeedback: []domain.RtcpFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}},
		},
	}
}

func clientCaps() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 109, ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 120, ClockRate: 90000,
			RtcpFeedback: []domain.RtcpFeedback{{Type: "nack", Parameter: "pli"}}},
	}}
}

func audioOnlyCaps() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
}

func opusParams(ssrc uint32) domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 109, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: ssrc}},
	}
}

func vp8Params(ssrc uint32) domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 120, ClockRate: 90000}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: ssrc}},
	}
}

type fixture struct {
	workers  []*memory.Worker
	pool     *WorkerPool
	registry *RoomRegistry
	notifier *recordingNotifier
	profiles *MockProfileRepository
	service  *SessionService
}

func newFixture(t *testing.T, numWorkers int) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	f := &fixture{notifier: &recordingNotifier{}, profiles: &MockProfileRepository{}}
	f.profiles.On("GetDisplayName", mock.Anything, mock.Anything).Return("", domain.ErrPeerNotFound).Maybe()

	for i := 0; i < numWorkers; i++ {
		f.workers = append(f.workers, memory.NewWorker(domain.WorkerID(i)))
	}
	pool, err := NewWorkerPool(asMediaWorkers(f.workers), logger)
	require.NoError(t, err)
	f.pool = pool
	f.registry = NewRoomRegistry(pool, testCodecs(), logger)
	f.service = NewSessionService(f.registry, f.profiles, f.notifier, logger)
	return f
}

// join admits user to room with a connected send and recv transport.
func (f *fixture) join(t *testing.T, room domain.RoomID, user domain.UserID) (send, recv domain.TransportID) {
	t.Helper()
	ctx := context.Background()
	caps := clientCaps()
	_, err := f.service.Join(ctx, joinReq(room, user, &caps))
	require.NoError(t, err)

	sp, err := f.service.CreateTransport(ctx, room, user, domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, f.service.ConnectTransport(ctx, room, user, sp.ID, remoteParams()))

	rp, err := f.service.CreateTransport(ctx, room, user, domain.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, f.service.ConnectTransport(ctx, room, user, rp.ID, remoteParams()))
	return sp.ID, rp.ID
}

func joinReq(room domain.RoomID, user domain.UserID, caps *domain.RtpCapabilities) ports.JoinRequest {
	return ports.JoinRequest{
		RoomID:          room,
		Identity:        domain.Identity{UserID: user, Username: string(user)},
		RtpCapabilities: caps,
		SessionID:       "session-" + string(user),
	}
}

func remoteParams() domain.RemoteTransportParams {
	return domain.RemoteTransportParams{DtlsParameters: domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	}}
}

func asMediaWorkers(ws []*memory.Worker) []ports.MediaWorker {
	out := make([]ports.MediaWorker, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}
