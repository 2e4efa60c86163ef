// Package health pings registered connections on a cron schedule and keeps
// the last result per database id.
package health

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// Pinger is the part of the repository the checker needs.
type Pinger interface {
	Ping(ctx context.Context, id model.DatabaseID) error
}

// Status is the last observed health of one database.
type Status struct {
	ID        model.DatabaseID `json:"id"`
	Healthy   bool             `json:"healthy"`
	Error     string           `json:"error,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Checker runs health checks. The zero value is not usable; use New.
type Checker struct {
	pinger  Pinger
	cron    *cron.Cron
	timeout time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	ids    []model.DatabaseID
	status map[model.DatabaseID]Status
}

// New creates a checker for ids. timeout bounds every single ping.
func New(p Pinger, ids []model.DatabaseID, timeout time.Duration, logger *log.Logger) *Checker {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		pinger:  p,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor))),
		timeout: timeout,
		logger:  logger,
		ids:     append([]model.DatabaseID(nil), ids...),
		status:  make(map[model.DatabaseID]Status),
	}
}

// Start schedules CheckNow with spec and starts the cron runner.
func (c *Checker) Start(spec string) error {
	if _, err := c.cron.AddFunc(spec, func() { c.CheckNow(context.Background()) }); err != nil {
		return fmt.Errorf("invalid health check schedule %q: %w", spec, err)
	}
	c.cron.Start()
	c.logger.Printf("health: checking %d databases (%s)", len(c.ids), spec)
	return nil
}

// Stop halts the cron runner and waits for a running check to finish.
func (c *Checker) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// Watch adds id to the set of checked databases.
func (c *Checker) Watch(id model.DatabaseID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.ids {
		if existing == id {
			return
		}
	}
	c.ids = append(c.ids, id)
}

// Forget removes id and its status.
func (c *Checker) Forget(id model.DatabaseID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.ids {
		if existing == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}
	delete(c.status, id)
}

// CheckNow pings every watched database concurrently and records the results.
func (c *Checker) CheckNow(ctx context.Context) {
	c.mu.RLock()
	ids := append([]model.DatabaseID(nil), c.ids...)
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id model.DatabaseID) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			err := c.pinger.Ping(pctx, id)
			c.record(id, err)
		}(id)
	}
	wg.Wait()
}

func (c *Checker) record(id model.DatabaseID, err error) {
	st := Status{ID: id, Healthy: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
	}
	c.mu.Lock()
	prev, seen := c.status[id]
	c.status[id] = st
	c.mu.Unlock()

	switch {
	case !st.Healthy && (!seen || prev.Healthy):
		c.logger.Printf("health: %s unhealthy: %v", id, err)
	case st.Healthy && seen && !prev.Healthy:
		c.logger.Printf("health: %s recovered", id)
	}
}

// Snapshot returns the recorded statuses sorted by id.
func (c *Checker) Snapshot() []Status {
	c.mu.RLock()
	out := make([]Status, 0, len(c.status))
	for _, st := range c.status {
		out = append(out, st)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
