package scheduler

import (
	"context"

	"github.com/moradacoop/morada/internal/config"
	"github.com/moradacoop/morada/internal/scheduler/joblock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLocker),
	fx.Provide(New),
	fx.Invoke(Start),
)

// ProvideLocker returns nil when redis is not configured; the scheduler then
// runs unlocked, which is safe for a single instance.
func ProvideLocker(cfg config.Config) *joblock.Locker {
	if cfg.RedisAddr == "" {
		return nil
	}
	return joblock.NewLocker(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}))
}

// Start runs the scheduler loop for the lifetime of the app. Both hooks are
// registered up front; a hook appended during Start is never stopped.
func Start(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
