package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const PRUNE_TIMEOUT = 30 * time.Second

// Pruner deletes rounds older than the retention window on a cron schedule.
type Pruner struct {
	cron      *cron.Cron
	store     Store
	retention time.Duration
	now       func() time.Time
}

func NewPruner(store Store, spec string, retention time.Duration) (*Pruner, error) {
	p := &Pruner{
		cron:      cron.New(cron.WithSeconds()),
		store:     store,
		retention: retention,
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(spec, p.run); err != nil {
		return nil, fmt.Errorf("register prune task %q: %w", spec, err)
	}
	return p, nil
}

func (p *Pruner) Start() {
	p.cron.Start()
	log.Printf("[HISTORY] pruner started (retention %s)", p.retention)
}

func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
	log.Println("[HISTORY] pruner stopped")
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	return p.store.Prune(ctx, p.now().Add(-p.retention))
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), PRUNE_TIMEOUT)
	defer cancel()

	n, err := p.RunOnce(ctx)
	if err != nil {
		log.Printf("[HISTORY] prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[HISTORY] pruned %d rounds older than %s", n, p.retention)
	}
}
