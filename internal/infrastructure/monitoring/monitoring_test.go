package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/internal/engine/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_SessionStats(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.UpdateSessionStats(domain.SessionStats{
		Rooms:            2,
		Peers:            5,
		Transports:       10,
		Producers:        4,
		Consumers:        12,
		RoutersPerWorker: map[domain.WorkerID]int{0: 1, 1: 1},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(p.roomsActive))
	assert.Equal(t, 5.0, testutil.ToFloat64(p.peersConnected))
	assert.Equal(t, 12.0, testutil.ToFloat64(p.consumersActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.routersPerWorker.WithLabelValues("1")))
}

func TestPrometheusCollector_SignalOps(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.RecordSignalOp("join", "ok", 3*time.Millisecond)
	p.RecordSignalOp("join", "ok", 5*time.Millisecond)
	p.RecordSignalOp("consume", "IncompatibleCapabilities", time.Millisecond)
	p.RecordConnectionOpened()
	p.RecordConnectionOpened()
	p.RecordConnectionClosed()
	p.RecordConnectionRejected("unauthorized")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.signalOpsTotal.WithLabelValues("join", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.signalOpsTotal.WithLabelValues("consume", "IncompatibleCapabilities")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.connectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.connectionsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.connectionsTotal.WithLabelValues("unauthorized")))
}

type staticStats domain.SessionStats

func (s staticStats) Stats() domain.SessionStats { return domain.SessionStats(s) }

func TestPrometheusCollector_RunPollsImmediately(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, staticStats{Rooms: 3}, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool { return testutil.ToFloat64(p.roomsActive) == 3 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

type workers []*memory.Worker

func (ws workers) Workers() []ports.MediaWorker {
	out := make([]ports.MediaWorker, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}

func (ws workers) Live() int {
	n := 0
	for _, w := range ws {
		if w.Err() == nil {
			n++
		}
	}
	return n
}

func TestHealthChecker_Workers(t *testing.T) {
	ws := workers{memory.NewWorker(0), memory.NewWorker(1)}
	h := NewHealthChecker()
	h.AddWorkerCheck(ws, time.Second)

	require.True(t, h.IsReady(context.Background()))

	ws[1].Kill(errors.New("crashed"))
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "1 of 2 media workers dead", status.Checks["media_workers"])
}

func TestHealthChecker_Ping(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("redis", func(context.Context) error { return nil }, time.Second)
	h.AddPingCheck("broken", func(context.Context) error { return errors.New("connection refused") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["redis"])
	assert.Equal(t, "connection refused", status.Checks["broken"])
}

func TestHealthChecker_TimeoutApplies(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 20*time.Millisecond)

	assert.False(t, h.IsReady(context.Background()))
}
