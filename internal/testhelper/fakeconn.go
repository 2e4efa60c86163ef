// Package testhelper provides fakes and fixtures shared by package tests.
package testhelper

import (
	"context"
	"sync"
	"time"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// FakeConn is an in-memory model.Connection that records every call.
type FakeConn struct {
	mu sync.Mutex

	Schema *model.Schema
	Result *model.ResultSet
	// Err is returned by Execute, Query and ReadSchema when set.
	Err      error
	CloseErr error
	// ClosePanics makes Close panic.
	ClosePanics bool
	// CloseDelay is slept before Close counts as done.
	CloseDelay time.Duration
	// Gate, when set, blocks Query until it is closed or ctx ends.
	Gate chan struct{}

	ExecCalls   []model.Statement
	QueryCalls  []model.Statement
	SchemaCalls int
	PingCalls   int
	closed      int
}

func (f *FakeConn) Execute(ctx context.Context, stmt model.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExecCalls = append(f.ExecCalls, stmt)
	return f.Err
}

func (f *FakeConn) Query(ctx context.Context, stmt model.Statement) (*model.ResultSet, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryCalls = append(f.QueryCalls, stmt)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result == nil {
		return &model.ResultSet{}, nil
	}
	return f.Result, nil
}

func (f *FakeConn) ReadSchema(ctx context.Context) (*model.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SchemaCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Schema == nil {
		return &model.Schema{}, nil
	}
	return f.Schema, nil
}

func (f *FakeConn) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingCalls++
	return f.Err
}

func (f *FakeConn) Close() error {
	if f.CloseDelay > 0 {
		time.Sleep(f.CloseDelay)
	}
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	if f.ClosePanics {
		panic("fake close panic")
	}
	return f.CloseErr
}

// Closed reports how many times Close ran.
func (f *FakeConn) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Execs returns a copy of the recorded Execute statements.
func (f *FakeConn) Execs() []model.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Statement(nil), f.ExecCalls...)
}

// Queries returns a copy of the recorded Query statements.
func (f *FakeConn) Queries() []model.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Statement(nil), f.QueryCalls...)
}

// SetErr changes Err while the connection may be in use.
func (f *FakeConn) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Calls returns the total number of I/O calls, Close excluded.
func (f *FakeConn) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ExecCalls) + len(f.QueryCalls) + f.SchemaCalls + f.PingCalls
}

// WaitClosed polls until Close ran at least n times or the timeout expires.
func (f *FakeConn) WaitClosed(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if f.Closed() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
