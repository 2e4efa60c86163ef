// Package registry owns the map from database id to live connection.
//
// What: A single goroutine reads a FIFO mailbox and is the only code that
// ever touches the map, so adds, closes and lookups are totally ordered.
// How: Messages are a closed set of structs behind the unexported message
// interface; lookups carry a one-shot buffered reply channel. Connection I/O
// never runs inside the loop except for Close.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// ErrReleased is returned when a message is sent after the registry shut down.
var ErrReleased = errors.New("registry released")

// Config configures a Registry.
type Config struct {
	// MailboxSize is the buffer of the mailbox channel.
	MailboxSize int
	// Logger receives close failures and recovered panics.
	Logger *log.Logger
}

// DefaultConfig returns the defaults used by New when fields are zero.
func DefaultConfig() Config {
	return Config{
		MailboxSize: 64,
		Logger:      log.Default(),
	}
}

// Stats tracks registry activity.
type Stats struct {
	Processed       atomic.Uint64
	Registered      atomic.Int64
	Closed          atomic.Uint64
	CloseFailures   atomic.Uint64
	RecoveredPanics atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Processed       uint64 `json:"processed"`
	Registered      int64  `json:"registered"`
	Closed          uint64 `json:"closed"`
	CloseFailures   uint64 `json:"close_failures"`
	RecoveredPanics uint64 `json:"recovered_panics"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Processed:       s.Processed.Load(),
		Registered:      s.Registered.Load(),
		Closed:          s.Closed.Load(),
		CloseFailures:   s.CloseFailures.Load(),
		RecoveredPanics: s.RecoveredPanics.Load(),
	}
}

// Registry is the connection actor. Create it with New.
type Registry struct {
	mailbox chan message
	// quit is closed when the loop stops reading; done once the mailbox
	// has been drained.
	quit    chan struct{}
	done    chan struct{}
	sending sync.RWMutex // senders hold it shared, drain exclusively
	logger  *log.Logger
	stats   Stats
	closing sync.WaitGroup // asynchronous closes started by closeConnection
}

// New starts the mailbox loop.
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	r := &Registry{
		mailbox: make(chan message, cfg.MailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  cfg.Logger,
	}
	go r.run()
	return r
}

// Add registers conn under id, replacing any previous entry without closing
// it. After shutdown the connection is closed instead of registered.
func (r *Registry) Add(id model.DatabaseID, conn model.Connection) {
	if err := r.send(context.Background(), addConnection{id: id, conn: conn}); err != nil {
		r.logger.Printf("registry: dropping connection %q: %v", id, err)
		_ = r.closeOne(id, conn)
	}
}

// Remove unregisters id and closes its connection in the background.
// Unknown ids are ignored.
func (r *Registry) Remove(id model.DatabaseID) {
	if err := r.send(context.Background(), closeConnection{id: id}); err != nil {
		r.logger.Printf("registry: ignoring close of %q: %v", id, err)
	}
}

// Get looks id up. The boolean is false when nothing is registered under id,
// including after shutdown. The error is only set when ctx ends first.
func (r *Registry) Get(ctx context.Context, id model.DatabaseID) (model.Connection, bool, error) {
	reply := make(chan lookup, 1)
	if err := r.send(ctx, getConnection{id: id, reply: reply}); err != nil {
		if errors.Is(err, ErrReleased) {
			return nil, false, nil
		}
		return nil, false, err
	}
	select {
	case res := <-reply:
		return res.conn, res.ok, nil
	case <-r.quit:
		select {
		case res := <-reply:
			return res.conn, res.ok, nil
		default:
			return nil, false, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// CloseAll closes and forgets every registered connection and waits until
// all of them are closed. Close errors are combined into the result.
func (r *Registry) CloseAll(ctx context.Context) error {
	return r.closeAll(ctx, false)
}

// Shutdown is CloseAll followed by stopping the mailbox loop. Unless ctx ends
// first it also waits for the loop to stop and for background closes started
// by Remove, whether or not closing the registered connections failed.
// Calling it again is a no-op.
func (r *Registry) Shutdown(ctx context.Context) error {
	err := r.closeAll(ctx, true)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	<-r.done
	r.closing.Wait()
	return err
}

// Done is closed once the mailbox loop has stopped.
func (r *Registry) Done() <-chan struct{} { return r.done }

// Stats returns the live counters.
func (r *Registry) Stats() *Stats { return &r.stats }

func (r *Registry) closeAll(ctx context.Context, final bool) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, closeAllConnections{final: final, reply: reply}); err != nil {
		if errors.Is(err, ErrReleased) {
			return nil
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.quit:
		select {
		case err := <-reply:
			return err
		default:
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) send(ctx context.Context, m message) error {
	r.sending.RLock()
	defer r.sending.RUnlock()
	select {
	case <-r.quit:
		return ErrReleased
	default:
	}
	select {
	case r.mailbox <- m:
		return nil
	case <-r.quit:
		return ErrReleased
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) run() {
	conns := make(map[model.DatabaseID]model.Connection)
	for m := range r.mailbox {
		if r.handle(conns, m) {
			break
		}
	}
	close(r.quit)
	r.drain()
	close(r.done)
}

// drain answers whatever was still queued when the loop stopped. Queued
// connections are closed rather than leaked. Holding sending exclusively
// waits out senders that enqueued before quit closed; later ones see quit.
func (r *Registry) drain() {
	r.sending.Lock()
	defer r.sending.Unlock()
	for {
		select {
		case m := <-r.mailbox:
			switch m := m.(type) {
			case addConnection:
				_ = r.closeOne(m.id, m.conn)
			case getConnection:
				m.reply <- lookup{}
			case closeAllConnections:
				m.reply <- nil
			}
		default:
			return
		}
	}
}

// handle applies one message. A panic is logged and swallowed so a single
// bad message cannot stop the loop.
func (r *Registry) handle(conns map[model.DatabaseID]model.Connection, m message) (stop bool) {
	defer func() {
		if p := recover(); p != nil {
			r.stats.RecoveredPanics.Add(1)
			r.logger.Printf("registry: recovered panic handling %T: %v\n%s", m, p, debug.Stack())
		}
	}()
	r.stats.Processed.Add(1)

	switch m := m.(type) {
	case addConnection:
		conns[m.id] = m.conn
	case closeConnection:
		conn, ok := conns[m.id]
		if !ok {
			return false
		}
		delete(conns, m.id)
		r.closing.Add(1)
		go func() {
			defer r.closing.Done()
			_ = r.closeOne(m.id, conn)
		}()
	case closeAllConnections:
		stop = m.final
		m.reply <- r.closeEvery(conns)
		clear(conns)
	case getConnection:
		conn, ok := conns[m.id]
		m.reply <- lookup{conn: conn, ok: ok}
	}
	r.stats.Registered.Store(int64(len(conns)))
	return stop
}

// closeEvery closes all connections concurrently and waits for them.
func (r *Registry) closeEvery(conns map[model.DatabaseID]model.Connection) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		multi error
	)
	for id, conn := range conns {
		wg.Add(1)
		go func(id model.DatabaseID, conn model.Connection) {
			defer wg.Done()
			if err := r.closeOne(id, conn); err != nil {
				mu.Lock()
				multi = multierror.Append(multi, err)
				mu.Unlock()
			}
		}(id, conn)
	}
	wg.Wait()
	return multi
}

func (r *Registry) closeOne(id model.DatabaseID, conn model.Connection) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic closing %q: %v\n%s", id, p, debug.Stack())
		}
		if err != nil {
			r.stats.CloseFailures.Add(1)
			r.logger.Printf("registry: close %q failed: %v", id, err)
			return
		}
		r.stats.Closed.Add(1)
	}()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close %q: %w", id, err)
	}
	return nil
}
