package trigger

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Schedule fires r on every activation of the standard cron spec until ctx
// is done. The returned scheduler is already started; Stop it to end.
func Schedule(ctx context.Context, spec string, r *Runner) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		r.Fire(ctx, "schedule "+spec)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	log.Printf("trigger: scheduled cycles on %q", spec)
	return c, nil
}
