// Package dbtest provides an in-memory unit of work for service tests.
package dbtest

import (
	"context"
)

// Snapshotter is implemented by in-memory repositories. Snapshot captures the
// current state and returns a function that restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// UnitOfWork mimics db.UnitOfWork: when fn fails every registered repository
// is rolled back to its state before the call. Nested calls join the outer one.
type UnitOfWork struct {
	repos   []Snapshotter
	depth   int
	Commits int
	Rolled  int
	// FailCommit, when set, is returned after fn succeeds, as if COMMIT failed.
	FailCommit error
}

func NewUnitOfWork(repos ...Snapshotter) *UnitOfWork {
	return &UnitOfWork{repos: repos}
}

func (u *UnitOfWork) Track(repos ...Snapshotter) {
	u.repos = append(u.repos, repos...)
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.depth > 0 {
		return fn(ctx)
	}

	restores := make([]func(), len(u.repos))
	for i, r := range u.repos {
		restores[i] = r.Snapshot()
	}

	u.depth++
	err := fn(ctx)
	u.depth--
	if err == nil && u.FailCommit != nil {
		err = u.FailCommit
	}
	if err != nil {
		for _, restore := range restores {
			restore()
		}
		u.Rolled++
		return err
	}
	u.Commits++
	return nil
}
