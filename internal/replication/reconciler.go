package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/remote"
	"github.com/divvyhq/divvy/internal/storage"
)

var (
	// ErrNotConflicted is returned when the operation is not FAILED with a
	// CONFLICT classification.
	ErrNotConflicted = errors.New("operation is not in a conflicted state")

	// ErrRemoteMissing means the remote entity no longer exists, so keeping
	// the server version is not possible; only keep-local or acknowledgment
	// remain.
	ErrRemoteMissing = errors.New("remote entity no longer exists")
)

// Resolution picks which side of a conflict prevails.
type Resolution string

const (
	// KeepServer overwrites local state with the fetched remote values and
	// acknowledges the failed operation as resolved.
	KeepServer Resolution = "KEEP_SERVER"

	// KeepLocal discards the remote snapshot and returns the operation to
	// PENDING for another delivery attempt.
	KeepLocal Resolution = "KEEP_LOCAL"
)

// FieldDiff is one row of a conflict comparison.
type FieldDiff struct {
	Section   string `json:"section"`
	Label     string `json:"label"`
	Local     string `json:"local"`
	Remote    string `json:"remote"`
	Different bool   `json:"different"`
}

// DiffSnapshot is an ordered field-by-field comparison of the local and
// remote versions of an entity.
type DiffSnapshot []FieldDiff

// Conflict describes a conflicted operation for presentation.
type Conflict struct {
	Operation    *models.SyncOperation `json:"operation"`
	RemoteExists bool                  `json:"remote_exists"`
	Diff         DiffSnapshot          `json:"diff"`
}

// Reconciler resolves CONFLICT-classified failures. Each invocation performs
// exactly one remote read, independent of the queue's retry budget; if that
// read itself fails the error surfaces locally and the operation stays
// FAILED, untouched.
type Reconciler struct {
	store  storage.Store
	client remote.Client
}

// NewReconciler creates a Reconciler.
func NewReconciler(store storage.Store, client remote.Client) *Reconciler {
	return &Reconciler{store: store, client: client}
}

// Load fetches the remote counterpart of a conflicted operation and builds
// the field diff for presentation.
func (r *Reconciler) Load(ctx context.Context, opID int64) (*Conflict, error) {
	op, err := r.conflictedOp(ctx, opID)
	if err != nil {
		return nil, err
	}

	c := &Conflict{Operation: op}
	switch op.EntityType {
	case models.EntityExpense:
		local, localSplits, err := r.localExpense(ctx, op)
		if err != nil {
			return nil, err
		}
		rem, remSplits, err := r.client.FetchExpense(ctx, op.EntityID)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("failed to fetch remote expense: %w", err)
		}
		c.RemoteExists = rem != nil
		c.Diff = DiffExpenses(local, localSplits, rem, remSplits)

	case models.EntityGroup:
		local, err := models.DecodeGroup(op.Payload)
		if err != nil {
			return nil, err
		}
		rem, err := r.client.FetchGroup(ctx, op.EntityID)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("failed to fetch remote group: %w", err)
		}
		c.RemoteExists = rem != nil
		c.Diff = DiffGroups(local, rem)

	case models.EntitySettlement:
		local, err := models.DecodeSettlement(op.Payload)
		if err != nil {
			return nil, err
		}
		rem, err := r.client.FetchSettlement(ctx, op.EntityID)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("failed to fetch remote settlement: %w", err)
		}
		c.RemoteExists = rem != nil
		c.Diff = DiffSettlements(local, rem)

	default:
		return nil, fmt.Errorf("unknown entity type %q", op.EntityType)
	}

	return c, nil
}

// Resolve applies the chosen resolution to a conflicted operation.
func (r *Reconciler) Resolve(ctx context.Context, opID int64, res Resolution) error {
	op, err := r.conflictedOp(ctx, opID)
	if err != nil {
		return err
	}

	switch res {
	case KeepLocal:
		// My version wins: requeue for another delivery attempt.
		if err := r.store.ResetOperation(ctx, op.ID); err != nil {
			return err
		}
		slog.Info("Conflict resolved, keeping local version", "op_id", op.ID)
		return nil

	case KeepServer:
		if err := r.applyRemote(ctx, op); err != nil {
			return err
		}
		if err := r.store.DeleteOperation(ctx, op.ID); err != nil {
			return err
		}
		slog.Info("Conflict resolved, keeping server version", "op_id", op.ID)
		return nil

	default:
		return fmt.Errorf("unknown resolution %q", res)
	}
}

// applyRemote fetches the remote entity and overwrites local state, without
// creating a new queue entry (the change is already the remote truth).
func (r *Reconciler) applyRemote(ctx context.Context, op *models.SyncOperation) error {
	switch op.EntityType {
	case models.EntityExpense:
		e, splits, err := r.client.FetchExpense(ctx, op.EntityID)
		if errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("expense %s: %w", op.EntityID, ErrRemoteMissing)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch remote expense: %w", err)
		}
		e.SyncStatus = models.SyncSynced
		return r.store.ApplyExpense(ctx, e, splits)

	case models.EntityGroup:
		g, err := r.client.FetchGroup(ctx, op.EntityID)
		if errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("group %s: %w", op.EntityID, ErrRemoteMissing)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch remote group: %w", err)
		}
		return r.store.ApplyGroup(ctx, g)

	case models.EntitySettlement:
		s, err := r.client.FetchSettlement(ctx, op.EntityID)
		if errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("settlement %s: %w", op.EntityID, ErrRemoteMissing)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch remote settlement: %w", err)
		}
		return r.store.ApplySettlement(ctx, s)

	default:
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}
}

func (r *Reconciler) conflictedOp(ctx context.Context, opID int64) (*models.SyncOperation, error) {
	op, err := r.store.GetOperation(ctx, opID)
	if err != nil {
		return nil, err
	}
	if op.Status != models.StatusFailed || op.FailureType != models.FailureConflict {
		return nil, fmt.Errorf("operation %d: %w", opID, ErrNotConflicted)
	}
	return op, nil
}

// localExpense prefers the live store row; for deletes (row already gone
// locally) it falls back to the payload snapshot.
func (r *Reconciler) localExpense(ctx context.Context, op *models.SyncOperation) (*models.Expense, []models.ExpenseSplit, error) {
	e, splits, err := r.store.GetExpense(ctx, op.EntityID)
	if err == nil {
		return e, splits, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return models.DecodeExpense(op.Payload)
	}
	return nil, nil, err
}

// DiffExpenses compares local and remote expense versions field by field.
// Either side may be nil (deleted); missing values render empty.
func DiffExpenses(local *models.Expense, localSplits []models.ExpenseSplit, rem *models.Expense, remSplits []models.ExpenseSplit) DiffSnapshot {
	var diff DiffSnapshot
	field := func(section, label, lv, rv string) {
		diff = append(diff, FieldDiff{
			Section: section, Label: label,
			Local: lv, Remote: rv,
			Different: lv != rv,
		})
	}

	field("expense", "Title", expenseField(local, func(e *models.Expense) string { return e.Title }),
		expenseField(rem, func(e *models.Expense) string { return e.Title }))
	field("expense", "Amount", expenseField(local, func(e *models.Expense) string { return e.Amount.StringFixed(2) }),
		expenseField(rem, func(e *models.Expense) string { return e.Amount.StringFixed(2) }))
	field("expense", "Currency", expenseField(local, func(e *models.Expense) string { return e.Currency }),
		expenseField(rem, func(e *models.Expense) string { return e.Currency }))
	field("expense", "Paid by", expenseField(local, func(e *models.Expense) string { return e.PayerID }),
		expenseField(rem, func(e *models.Expense) string { return e.PayerID }))
	field("expense", "Date", expenseField(local, func(e *models.Expense) string { return fmt.Sprintf("%d", e.Date) }),
		expenseField(rem, func(e *models.Expense) string { return fmt.Sprintf("%d", e.Date) }))

	localBy := splitAmounts(localSplits)
	remBy := splitAmounts(remSplits)
	for _, userID := range unionKeys(localBy, remBy) {
		field("splits", userID, amountOrEmpty(localBy, userID), amountOrEmpty(remBy, userID))
	}

	return diff
}

// DiffGroups compares local and remote group versions.
func DiffGroups(local, rem *models.Group) DiffSnapshot {
	name := func(g *models.Group) string {
		if g == nil {
			return ""
		}
		return g.Name
	}
	members := func(g *models.Group) string {
		if g == nil {
			return ""
		}
		sorted := make([]string, len(g.Members))
		copy(sorted, g.Members)
		sort.Strings(sorted)
		return fmt.Sprintf("%v", sorted)
	}
	return DiffSnapshot{
		{Section: "group", Label: "Name", Local: name(local), Remote: name(rem), Different: name(local) != name(rem)},
		{Section: "group", Label: "Members", Local: members(local), Remote: members(rem), Different: members(local) != members(rem)},
	}
}

// DiffSettlements compares local and remote settlement versions.
func DiffSettlements(local, rem *models.Settlement) DiffSnapshot {
	f := func(s *models.Settlement, get func(*models.Settlement) string) string {
		if s == nil {
			return ""
		}
		return get(s)
	}
	rows := []struct {
		label string
		get   func(*models.Settlement) string
	}{
		{"From", func(s *models.Settlement) string { return s.FromUserID }},
		{"To", func(s *models.Settlement) string { return s.ToUserID }},
		{"Amount", func(s *models.Settlement) string { return s.Amount.StringFixed(2) }},
		{"Date", func(s *models.Settlement) string { return fmt.Sprintf("%d", s.Date) }},
	}
	var diff DiffSnapshot
	for _, row := range rows {
		lv, rv := f(local, row.get), f(rem, row.get)
		diff = append(diff, FieldDiff{Section: "settlement", Label: row.label, Local: lv, Remote: rv, Different: lv != rv})
	}
	return diff
}

func expenseField(e *models.Expense, get func(*models.Expense) string) string {
	if e == nil {
		return ""
	}
	return get(e)
}

func splitAmounts(splits []models.ExpenseSplit) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(splits))
	for _, sp := range splits {
		m[sp.UserID] = sp.Amount
	}
	return m
}

func amountOrEmpty(m map[string]decimal.Decimal, userID string) string {
	if a, ok := m[userID]; ok {
		return a.StringFixed(2)
	}
	return ""
}

func unionKeys(a, b map[string]decimal.Decimal) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
