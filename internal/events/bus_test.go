package events

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSubscribeBacksOffWhenRedisIsDown(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := &Bus{
		// Nothing listens on port 1, so every read fails at once.
		rdb:    redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}),
		stream: DefaultStream,
		logger: zap.New(core),
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ch := b.Subscribe(ctx, "0")

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected exchange from an unreachable server")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not stop after ctx was done")
	}

	// 100ms + 200ms + 400ms of backoff fits at most four failed reads in 500ms.
	if n := logs.FilterMessage("read exchange stream").Len(); n == 0 || n > 4 {
		t.Errorf("got %d failed-read warnings, want between 1 and 4", n)
	}
}
