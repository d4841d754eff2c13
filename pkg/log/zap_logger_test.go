package log_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreq/openreq/pkg/log"
)

// testWriteSyncer is a mock zapcore.WriteSyncer that captures the last
// written log entry, used to verify the exact output of the ZapLogger.
type testWriteSyncer struct {
	lastEntry []byte
}

func (tws *testWriteSyncer) Write(p []byte) (n int, err error) {
	tws.lastEntry = p
	return len(p), nil
}

func (tws *testWriteSyncer) Sync() error {
	return nil
}

// AssertEntry verifies that the last written log entry matches the expected
// level, logger name, message and key-value pairs.
func (tws *testWriteSyncer) AssertEntry(t *testing.T, level log.Level, name, message string, keysAndValues ...any) {
	t.Helper()

	entryMap := make(map[string]any)
	require.NoError(t, json.Unmarshal(tws.lastEntry, &entryMap), "Failed to unmarshal log entry: %s", string(tws.lastEntry))

	assert.Contains(t, entryMap, "ts")
	assert.Equal(t, name, entryMap["logger"])
	assert.Equal(t, string(level), entryMap["level"])
	assert.Equal(t, message, entryMap["msg"])
	assert.True(t, strings.HasPrefix(entryMap["caller"].(string), "log/zap_logger_test.go:"),
		"unexpected caller %q", entryMap["caller"])

	for i := 0; i < len(keysAndValues); i += 2 {
		key := keysAndValues[i]
		value := keysAndValues[i+1]
		assert.Equal(t, value, entryMap[key.(string)])
	}

	assert.Equal(t, len(keysAndValues)/2, len(entryMap)-5) // -5 for ts, level, logger, caller and msg
}

func TestZapLogger(t *testing.T) {
	// JSON format for easier parsing
	cfg := log.Config{
		Format: "json",
		Level:  log.LevelDebug,
	}
	tws := &testWriteSyncer{}
	logger := log.NewZapLogger(cfg, tws)

	testName := "testLogger"
	logger = logger.NewSystem(testName)

	keysAndValues := []any{"key1", "value1", "key2", "value2"}
	testMessage := "test message"

	logger.Debug(testMessage, keysAndValues...)
	tws.AssertEntry(t, log.LevelDebug, testName, testMessage, keysAndValues...)

	logger.Info(testMessage, keysAndValues...)
	tws.AssertEntry(t, log.LevelInfo, testName, testMessage, keysAndValues...)

	logger.Warn(testMessage, keysAndValues...)
	tws.AssertEntry(t, log.LevelWarn, testName, testMessage, keysAndValues...)

	logger.Error(testMessage, keysAndValues...)
	tws.AssertEntry(t, log.LevelError, testName, testMessage, keysAndValues...)

	// Key-value pairs attached with With must carry into named subsystems.
	newK := "newKey"
	newV := "newValue"
	logger = logger.With(newK, newV).NewSystem("sub")
	allKeysAndValues := append([]any{newK, newV}, keysAndValues...)

	logger.Info(testMessage, keysAndValues...)
	tws.AssertEntry(t, log.LevelInfo, "testLogger.sub", testMessage, allKeysAndValues...)
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	cfg := log.Config{
		Format: "json",
		Level:  log.LevelWarn,
	}
	tws := &testWriteSyncer{}
	logger := log.NewZapLogger(cfg, tws)

	logger.Info("filtered out")
	assert.Empty(t, tws.lastEntry)

	logger.Warn("kept")
	assert.NotEmpty(t, tws.lastEntry)
}

func TestZapLogger_LogfmtFormat(t *testing.T) {
	cfg := log.Config{
		Format: "logfmt",
		Level:  log.LevelInfo,
	}
	tws := &testWriteSyncer{}
	logger := log.NewZapLogger(cfg, tws)

	logger.Info("ready", "requestId", "0xabc")

	entry := string(tws.lastEntry)
	assert.Contains(t, entry, "level=info")
	assert.Contains(t, entry, "msg=ready")
	assert.Contains(t, entry, "requestId=0xabc")
}

func TestContextLogger(t *testing.T) {
	cfg := log.Config{
		Format: "json",
		Level:  log.LevelDebug,
	}
	tws := &testWriteSyncer{}
	logger := log.NewZapLogger(cfg, tws).NewSystem("ctx")

	ctx := log.SetContextLogger(context.Background(), logger)
	log.FromContext(ctx).Info("from context")
	tws.AssertEntry(t, log.LevelInfo, "ctx", "from context")

	// Without an attached logger the fallback must be safe to use.
	log.FromContext(context.Background()).Info("goes nowhere")
}
