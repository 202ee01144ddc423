package pion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFactory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newLoggerFactory(zap.New(core).Sugar()).NewLogger("ice")

	l.Trace("dropped")
	l.Tracef("dropped %d", 1)
	l.Debugf("gathering %d candidates", 3)
	l.Warn("turn server unreachable")
	l.Errorf("dtls: %s", "handshake failed")

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "gathering 3 candidates", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "dtls: handshake failed", entries[2].Message)
		assert.Equal(t, "ice", entries[2].ContextMap()["pion_scope"])
	}
}
