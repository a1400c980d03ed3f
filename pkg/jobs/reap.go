package jobs

import (
	"context"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/services"
	"github.com/artifact-vault/artifact-engine/pkg/tools"
	"github.com/robfig/cron/v3"
)

// ScheduleReap sets up a cron job that sweeps stale pending reservations.
// A pending row whose upload window closed past the service's TTL gets
// abandoned; rows finalized in the meantime are left alone.
func ScheduleReap(ctx context.Context, svc *services.UploadService, spec string) *cron.Cron {
	if spec == "" {
		spec = "@every 15m"
	}
	c := cron.New()
	_, _ = c.AddFunc(spec, func() {
		tools.Dispatch(context.Background(), "reap", func(ctx context.Context) error {
			return svc.ReapStale(ctx)
		})
	})
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c
}
