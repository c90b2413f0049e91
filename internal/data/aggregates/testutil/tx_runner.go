package testutil

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/aggregates"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

var errInjectedRollback = errors.New("injected rollback")

// InjectedTxRunner fails aggregate transactions at a chosen point.
// With DB set the body runs in a real transaction, so a commit failure
// rolls back everything the body wrote.
type InjectedTxRunner struct {
	DB *gorm.DB

	FailBegin  error
	FailCommit error

	mu            sync.Mutex
	beginCalls    int
	commitCalls   int
	rollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.beginCalls++
	failBegin, failCommit := r.FailBegin, r.FailCommit
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}

	var err error
	if r.DB == nil {
		err = fn(dbctx.Context{Ctx: ctx})
		if err == nil && failCommit != nil {
			err = failCommit
		}
	} else {
		err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := fn(dbctx.Context{Ctx: ctx, Tx: tx}); err != nil {
				return err
			}
			if failCommit != nil {
				return failCommit
			}
			return nil
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rollbackCalls++
		return err
	}
	r.commitCalls++
	return nil
}

// Counts returns begin, commit and rollback totals.
func (r *InjectedTxRunner) Counts() (begin, commit, rollback int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beginCalls, r.commitCalls, r.rollbackCalls
}

// RollbackAlways returns a runner that executes the body and then rolls back.
func RollbackAlways(db *gorm.DB) *InjectedTxRunner {
	return &InjectedTxRunner{DB: db, FailCommit: errInjectedRollback}
}
