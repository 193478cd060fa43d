package zaplog

import (
	"errors"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return New(zap.New(core)), logs
}

func TestLogger_Levels(t *testing.T) {
	l, logs := newObserved(zapcore.InfoLevel)

	l.Debug("hidden")
	l.Info("connected", "peer", "p1")
	l.Warn("slow")
	l.Error("failed")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "connected", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "p1", entries[0].ContextMap()["peer"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestLogger_FieldConversion(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)

	l.Debug("send failed", "error", errors.New("reset"), "peer", peer.ID("abc"), "attempts", 3)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "reset", fields["error"])
	assert.Equal(t, peer.ID("abc").String(), fields["peer"])
	assert.EqualValues(t, 3, fields["attempts"])
}

func TestLogger_NilAndNamed(t *testing.T) {
	New(nil).Info("discarded")

	l, logs := newObserved(zapcore.InfoLevel)
	l.Named("router").Info("ready")
	assert.Equal(t, "router", logs.All()[0].LoggerName)
}

func TestParseLevelAndBuild(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)

	logger, err := Build("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = Build("info", "xml")
	require.Error(t, err)
}
