// Package service exposes the engine to UI and presentation collaborators:
// read streams of balances, suggestions, and sync issues, plus the mutation
// commands that feed the write-ahead queue.
package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/ledger"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// LedgerView is one recomputed snapshot of a group's derived state.
type LedgerView struct {
	GroupID     string                        `json:"group_id"`
	Balances    map[string]decimal.Decimal    `json:"balances"`
	Suggestions []models.SettlementSuggestion `json:"suggestions"`
}

// LedgerService derives balances and settlement suggestions. Nothing is
// cached: every read recomputes from a fresh store snapshot, trading CPU for
// correctness at the expected row counts.
type LedgerService struct {
	store storage.Store
}

// NewLedgerService creates a LedgerService backed by the given store.
func NewLedgerService(store storage.Store) *LedgerService {
	return &LedgerService{store: store}
}

// View computes the current balances and suggestions for a group.
func (s *LedgerService) View(ctx context.Context, groupID string, mode ledger.Mode) (*LedgerView, error) {
	snap, err := s.store.Snapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}
	balances := ledger.Balances(snap.Expenses, snap.Splits, snap.Settlements)
	return &LedgerView{
		GroupID:     groupID,
		Balances:    balances,
		Suggestions: ledger.Simplify(balances, mode),
	}, nil
}

// Watch emits a recomputed view after every committed store change. The
// sequence is cold and restartable: a fresh subscriber always receives the
// current view first. The channel closes when ctx ends. Slow consumers only
// ever see the latest view; intermediate recomputations are dropped.
func (s *LedgerService) Watch(ctx context.Context, groupID string, mode ledger.Mode) <-chan LedgerView {
	out := make(chan LedgerView, 1)
	signal := s.store.Watch(ctx)

	go func() {
		defer close(out)
		s.emit(ctx, groupID, mode, out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				s.emit(ctx, groupID, mode, out)
			}
		}
	}()

	return out
}

func (s *LedgerService) emit(ctx context.Context, groupID string, mode ledger.Mode, out chan LedgerView) {
	view, err := s.View(ctx, groupID, mode)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Failed to recompute ledger view", "group_id", groupID, "error", err)
		}
		return
	}
	// Replace a stale undelivered view rather than blocking the notifier.
	select {
	case out <- *view:
	default:
		select {
		case <-out:
		default:
		}
		select {
		case out <- *view:
		default:
		}
	}
}
