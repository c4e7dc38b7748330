// internal/service/fakes_test.go
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"card-service/internal/model"
	"card-service/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type balanceUpdate struct {
	ids     []int64
	balance decimal.Decimal
}

// fakeCustomerRepo is an in-memory CustomerRepository
type fakeCustomerRepo struct {
	mu        sync.Mutex
	byTID     map[string]*model.Customer
	searchErr error
	updateErr error
	searches  int
	updates   []balanceUpdate
	// beforeSearch runs before each search, outside the lock
	beforeSearch func(ctx context.Context)
}

func newFakeCustomerRepo(customers ...*model.Customer) *fakeCustomerRepo {
	repo := &fakeCustomerRepo{byTID: map[string]*model.Customer{}}
	for _, c := range customers {
		repo.byTID[c.CardTID] = c
	}
	return repo
}

func (r *fakeCustomerRepo) Search(ctx context.Context, filter *repository.CustomerFilter) ([]*model.Customer, error) {
	r.mu.Lock()
	hook := r.beforeSearch
	r.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.searches++
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	out := []*model.Customer{}
	if filter == nil {
		return out, nil
	}
	for _, c := range r.byTID {
		if filter.CardTID != nil && c.CardTID != *filter.CardTID {
			continue
		}
		if filter.Name != nil && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(*filter.Name)) {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeCustomerRepo) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.byTID {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repository.ErrCustomerNotFound
}

func (r *fakeCustomerRepo) UpdateBalance(ctx context.Context, ids []int64, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, balanceUpdate{ids: append([]int64(nil), ids...), balance: balance})
	for _, c := range r.byTID {
		for _, id := range ids {
			if c.ID == id {
				c.Balance = balance
			}
		}
	}
	return nil
}

func (r *fakeCustomerRepo) searchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searches
}

func (r *fakeCustomerRepo) balanceUpdates() []balanceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]balanceUpdate(nil), r.updates...)
}

// fakeOperationRepo is an in-memory CardOperationRepository
type fakeOperationRepo struct {
	mu         sync.Mutex
	operations []*model.CardOperation
	createErr  error
}

func (r *fakeOperationRepo) Create(ctx context.Context, operation *model.CardOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	r.operations = append(r.operations, operation)
	return nil
}

func (r *fakeOperationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.CardOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, op := range r.operations {
		if op.ID == id {
			return op, nil
		}
	}
	return nil, errors.New("operation not found")
}

func (r *fakeOperationRepo) List(ctx context.Context, filter *repository.CardOperationFilter) ([]*model.CardOperation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.CardOperation
	for _, op := range r.operations {
		if filter.Operation != nil && op.Operation != *filter.Operation {
			continue
		}
		if filter.Status != nil && op.Status != *filter.Status {
			continue
		}
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, len(out), nil
}

func (r *fakeOperationRepo) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*model.CardOperation
	var deleted int64
	for _, op := range r.operations {
		if op.CompletedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, op)
	}
	r.operations = kept
	return deleted, nil
}

func (r *fakeOperationRepo) all() []*model.CardOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.CardOperation(nil), r.operations...)
}

// sessionRecorder captures everything a controller reports to its caller
type sessionRecorder struct {
	mu            sync.Mutex
	results       []*model.CardResult
	closes        int
	snapshots     []model.SessionSnapshot
	notifications []model.Notification
}

func (r *sessionRecorder) options(kind model.OperationKind, data string, amount int64) ControllerOptions {
	return ControllerOptions{
		Kind:   kind,
		Data:   data,
		Amount: amount,
		OnResult: func(result *model.CardResult) {
			r.mu.Lock()
			r.results = append(r.results, result)
			r.mu.Unlock()
		},
		OnClose: func() {
			r.mu.Lock()
			r.closes++
			r.mu.Unlock()
		},
		OnStateChange: func(snapshot model.SessionSnapshot) {
			r.mu.Lock()
			r.snapshots = append(r.snapshots, snapshot)
			r.mu.Unlock()
		},
	}
}

func (r *sessionRecorder) Notify(notification model.Notification) {
	r.mu.Lock()
	r.notifications = append(r.notifications, notification)
	r.mu.Unlock()
}

func (r *sessionRecorder) resultCalls() []*model.CardResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.CardResult(nil), r.results...)
}

func (r *sessionRecorder) closeCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func (r *sessionRecorder) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *sessionRecorder) lastSnapshot() model.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return model.SessionSnapshot{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *sessionRecorder) warnings() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Notification
	for _, n := range r.notifications {
		if n.Level == NotificationWarning {
			out = append(out, n)
		}
	}
	return out
}
