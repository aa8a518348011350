package middleware

import (
	"testing"
	"time"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

func TestNewRateLimiterFromConfig_AppliesDefaults(t *testing.T) {
	logger := logging.New("test", "error", "text")
	rl := NewRateLimiterFromConfig(RateLimiterConfig{Logger: logger})

	if rl.Limit() != 100 {
		t.Errorf("Limit() = %d, want 100", rl.Limit())
	}
	if rl.Window() != time.Minute {
		t.Errorf("Window() = %v, want 1m", rl.Window())
	}
}

func TestStrictRateLimiterConfig_IsTighterThanDefault(t *testing.T) {
	logger := logging.New("test", "error", "text")
	strict := NewRateLimiterFromConfig(StrictRateLimiterConfig(logger))
	lenient := NewRateLimiterFromConfig(LenientRateLimiterConfig(logger))

	if strict.Limit() >= lenient.Limit() {
		t.Errorf("strict limit %d should be tighter than lenient limit %d", strict.Limit(), lenient.Limit())
	}
}

func TestStartCleanupFromConfig_StopsCleanly(t *testing.T) {
	logger := logging.New("test", "error", "text")
	rl := NewRateLimiterFromConfig(DefaultRateLimiterConfig(logger))
	stop := StartCleanupFromConfig(rl, RateLimiterConfig{CleanupInterval: 10 * time.Millisecond})
	defer stop()
}
