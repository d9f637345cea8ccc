package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPayload_Deterministic(t *testing.T) {
	payload := map[string]any{
		"request_id":   uint64(7),
		"amount_cents": int64(5000),
		"refund_id":    "re_1",
	}
	want := " | amount_cents=5000 | refund_id=re_1 | request_id=7"
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, formatPayload(payload))
	}
	assert.Equal(t, "", formatPayload(nil))
}

func TestHandleMessage(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	body, err := json.Marshal(NotificationEvent{
		UserID:    2,
		EventType: "deposit.released",
		Payload:   map[string]any{"request_id": 7},
		EmittedAt: "2025-06-01T12:00:00Z",
	})
	require.NoError(t, err)
	require.NoError(t, handleMessage(body))

	data, err := os.ReadFile(filepath.Join("logs", "notifications.log"))
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "deposit.released")
	assert.Contains(t, line, "user_id=2")
	assert.Contains(t, line, "request_id=7")
}

func TestHandleMessage_BadJSON(t *testing.T) {
	assert.Error(t, handleMessage([]byte("{not json")))
}
