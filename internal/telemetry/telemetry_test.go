package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDisabledByDefault verifies nothing is reported without opt-in.
func TestDisabledByDefault(t *testing.T) {
	assert.False(t, IsEnabled())

	TrackError(errors.New("boom"), map[string]interface{}{"table": "students"})
	TrackEvent("drain", nil)
	RecordTiming("drain", time.Second, map[string]string{"result": "ok"})
	assert.NoError(t, Shutdown(context.Background()))
}

// TestEnableRequiresToken verifies an empty token keeps telemetry off.
func TestEnableRequiresToken(t *testing.T) {
	assert.False(t, Enable(Options{Environment: "test"}))
	assert.False(t, IsEnabled())
}

func TestEnableDisable(t *testing.T) {
	assert.True(t, Enable(Options{Token: "test-token", Environment: "test", CodeVersion: "dev"}))
	assert.True(t, IsEnabled())
	Disable()
	assert.False(t, IsEnabled())
}
