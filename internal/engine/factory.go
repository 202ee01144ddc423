// Package engine builds the media workers selected by configuration.
package engine

import (
	"fmt"
	"strings"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/internal/engine/memory"
	"voxsfu/internal/engine/pion"
	"voxsfu/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var videoFeedback = []domain.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

// RouterCodecs turns configured codecs into the capability set every router
// is created with.
func RouterCodecs(codecs []config.Codec) []domain.RtpCodecCapability {
	out := make([]domain.RtpCodecCapability, 0, len(codecs))
	for _, c := range codecs {
		kind := domain.MediaKind(strings.ToLower(c.Kind))
		capability := domain.RtpCodecCapability{
			Kind:                 kind,
			MimeType:             c.MimeType,
			PreferredPayloadType: c.PayloadType,
			ClockRate:            c.ClockRate,
			Channels:             c.Channels,
			Parameters:           domain.ParseFmtp(c.FmtpLine),
		}
		if kind == domain.KindVideo {
			capability.RtcpFeedback = append([]domain.RtcpFeedback(nil), videoFeedback...)
		}
		out = append(out, capability)
	}
	return out
}

// NewWorkers creates cfg.Media.NumWorkers workers of the configured engine.
func NewWorkers(cfg *config.Config, logger *zap.SugaredLogger) ([]ports.MediaWorker, error) {
	n := cfg.Media.NumWorkers
	switch cfg.Media.Engine {
	case "memory":
		logger.Warnw("memory media engine selected, no media will be forwarded", "workers", n)
		return memory.NewWorkers(n), nil
	case "pion", "":
	default:
		return nil, fmt.Errorf("unknown media engine %q", cfg.Media.Engine)
	}

	codecs := RouterCodecs(cfg.Media.Codecs)
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.Media.ICEServers))
	for _, s := range cfg.Media.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	workers := make([]ports.MediaWorker, 0, n)
	for i := 0; i < n; i++ {
		lo, hi, err := pion.SplitPortRange(cfg.Media.PortRange.Min, cfg.Media.PortRange.Max, i, n)
		if err != nil {
			closeAll(workers)
			return nil, err
		}
		w, err := pion.NewWorker(domain.WorkerID(i), pion.Options{
			ICEServers:      iceServers,
			PortMin:         lo,
			PortMax:         hi,
			AnnouncedIPs:    cfg.Media.AnnouncedIPs,
			ICELite:         cfg.Media.ICELite,
			IncludeLoopback: cfg.Media.IncludeLoopback,
			Codecs:          codecs,
		}, logger)
		if err != nil {
			closeAll(workers)
			return nil, fmt.Errorf("start media worker %d: %w", i, err)
		}
		logger.Infow("media worker started", "worker_id", i, "port_min", lo, "port_max", hi)
		workers = append(workers, w)
	}
	return workers, nil
}

func closeAll(workers []ports.MediaWorker) {
	for _, w := range workers {
		_ = w.Close()
	}
}
