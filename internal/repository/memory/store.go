// Package memory is an in-process store.Store used by service and handler
// tests. Transactions are serialized on a single mutex and work on a copy of
// the data that replaces the committed state only when fn succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmos/marketplace/internal/models"
	"github.com/hmos/marketplace/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	data   *state
	faults map[string]error
	now    func() time.Time
}

func New() *Store {
	return &Store{data: newState(), faults: map[string]error{}, now: func() time.Time { return time.Now().UTC() }}
}

// FailOn makes the next call of op (for example "jobs.insert") fail with err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	tx := &memTx{st: s.data.clone(), store: s}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data = tx.st
	s.mu.Unlock()

	for _, h := range tx.hooks {
		h(ctx)
	}
	return nil
}

// ReadSnapshot runs fn against a private copy of the committed state. Writes
// and row locks through tx fail, as they do in a Postgres read-only
// transaction.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	tx := &memTx{st: s.data.clone(), store: s, readOnly: true}
	s.mu.Unlock()
	return fn(ctx, tx)
}

// fault is called with s.mu held.
func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

// Snapshot helpers for assertions. They read committed state only.

func (s *Store) Wallet(userID uuid.UUID) (*models.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data.wallets[userID]
	if !ok {
		return nil, false
	}
	cp := *w
	return &cp, true
}

func (s *Store) Entries() []*models.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.WalletTransaction, len(s.data.ledger))
	for i, e := range s.data.ledger {
		cp := *e
		out[i] = &cp
	}
	return out
}

func (s *Store) EscrowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.escrows)
}

func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.jobs)
}

// ---------------------------------------------------------------------------

type state struct {
	wallets   map[uuid.UUID]*models.Wallet // keyed by user
	ledger    []*models.WalletTransaction
	escrows   map[uuid.UUID]*models.EscrowTransaction
	revisions []*models.WorkRevision
	jobs      map[uuid.UUID]*models.JobPosting
	bids      []*models.JobBid
	payments  map[uuid.UUID]*models.PaymentRequest
}

func newState() *state {
	return &state{
		wallets:  map[uuid.UUID]*models.Wallet{},
		escrows:  map[uuid.UUID]*models.EscrowTransaction{},
		jobs:     map[uuid.UUID]*models.JobPosting{},
		payments: map[uuid.UUID]*models.PaymentRequest{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.wallets {
		cp := *v
		c.wallets[k] = &cp
	}
	c.ledger = append(c.ledger, s.ledger...)
	for k, v := range s.escrows {
		c.escrows[k] = cloneEscrow(v)
	}
	for _, r := range s.revisions {
		c.revisions = append(c.revisions, cloneRevision(r))
	}
	for k, v := range s.jobs {
		cp := *v
		c.jobs[k] = &cp
	}
	for _, b := range s.bids {
		cp := *b
		c.bids = append(c.bids, &cp)
	}
	for k, v := range s.payments {
		cp := *v
		c.payments[k] = &cp
	}
	return c
}

func cloneEscrow(e *models.EscrowTransaction) *models.EscrowTransaction {
	cp := *e
	cp.WorkImages = append([]string(nil), e.WorkImages...)
	return &cp
}

func cloneRevision(r *models.WorkRevision) *models.WorkRevision {
	cp := *r
	cp.SubmittedImages = append([]string(nil), r.SubmittedImages...)
	return &cp
}

// ---------------------------------------------------------------------------

type memTx struct {
	st       *state
	store    *Store
	hooks    []func(ctx context.Context)
	readOnly bool
}

var errReadOnly = errors.New("write or row lock in a read-only transaction")

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) Wallets() store.WalletRepo { return walletRepo{t} }
func (t *memTx) Ledger() store.LedgerRepo { return ledgerRepo{t} }
func (t *memTx) Escrows() store.EscrowRepo { return escrowRepo{t} }
func (t *memTx) Revisions() store.RevisionRepo { return revisionRepo{t} }
func (t *memTx) Jobs() store.JobRepo { return jobRepo{t} }
func (t *memTx) Bids() store.BidRepo { return bidRepo{t} }
func (t *memTx) Payments() store.PaymentRepo { return paymentRepo{t} }

func (t *memTx) AfterCommit(fn func(ctx context.Context)) { t.hooks = append(t.hooks, fn) }

func (t *memTx) now() time.Time { return t.store.now() }

// --- wallets ---

type walletRepo struct{ t *memTx }

func (r walletRepo) Ensure(_ context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	if err := r.t.writable(); err != nil {
		return nil, err
	}
	w, ok := r.t.st.wallets[userID]
	if !ok {
		now := r.t.now()
		w = &models.Wallet{
			ID: uuid.New(), UserID: userID, Currency: currency,
			AvailableBalance: decimal.Zero, PendingBalance: decimal.Zero, FrozenBalance: decimal.Zero,
			CreatedAt: now, UpdatedAt: now,
		}
		r.t.st.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}

func (r walletRepo) Get(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := r.t.st.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for %s: %w", userID, models.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (r walletRepo) Adjust(_ context.Context, userID uuid.UUID, bt models.BalanceType, delta decimal.Decimal) (*models.Wallet, error) {
	if err := r.t.writable(); err != nil {
		return nil, err
	}
	if err := r.t.store.fault("wallets.adjust"); err != nil {
		return nil, err
	}
	w, ok := r.t.st.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for %s: %w", userID, models.ErrNotFound)
	}
	next := w.Balance(bt).Add(delta)
	if next.IsNegative() {
		return nil, models.ErrInsufficientFunds
	}
	w.SetBalance(bt, next)
	w.UpdatedAt = r.t.now()
	cp := *w
	return &cp, nil
}

func (r walletRepo) List(_ context.Context) ([]*models.Wallet, error) {
	out := make([]*models.Wallet, 0, len(r.t.st.wallets))
	for _, w := range r.t.st.wallets {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

// --- ledger ---

type ledgerRepo struct{ t *memTx }

func (r ledgerRepo) Append(_ context.Context, e *models.WalletTransaction) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if err := r.t.store.fault("ledger.append"); err != nil {
		return err
	}
	e.CreatedAt = r.t.now()
	cp := *e
	r.t.st.ledger = append(r.t.st.ledger, &cp)
	return nil
}

func (r ledgerRepo) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	var out []*models.WalletTransaction
	for i := len(r.t.st.ledger) - 1; i >= 0; i-- {
		e := r.t.st.ledger[i]
		if e.UserID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r ledgerRepo) ForEach(_ context.Context, fn func(e *models.WalletTransaction) error) error {
	for _, e := range r.t.st.ledger {
		cp := *e
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}

// --- escrows ---

type escrowRepo struct{ t *memTx }

func (r escrowRepo) Insert(_ context.Context, e *models.EscrowTransaction) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if err := r.t.store.fault("escrows.insert"); err != nil {
		return err
	}
	now := r.t.now()
	e.CreatedAt, e.UpdatedAt = now, now
	r.t.st.escrows[e.ID] = cloneEscrow(e)
	return nil
}

func (r escrowRepo) Get(_ context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, ok := r.t.st.escrows[id]
	if !ok {
		return nil, fmt.Errorf("escrow %s: %w", id, models.ErrNotFound)
	}
	return cloneEscrow(e), nil
}

func (r escrowRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	if err := r.t.writable(); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r escrowRepo) Update(_ context.Context, e *models.EscrowTransaction, prev models.EscrowStatus) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	cur, ok := r.t.st.escrows[e.ID]
	if !ok {
		return fmt.Errorf("escrow %s: %w", e.ID, models.ErrNotFound)
	}
	if cur.Status != prev {
		return models.ErrConflict
	}
	e.UpdatedAt = r.t.now()
	r.t.st.escrows[e.ID] = cloneEscrow(e)
	return nil
}

func (r escrowRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.EscrowTransaction, error) {
	return r.filter(func(e *models.EscrowTransaction) bool {
		_, ok := e.PartyOf(userID)
		return ok
	}), nil
}

func (r escrowRepo) ListByStatus(_ context.Context, status models.EscrowStatus) ([]*models.EscrowTransaction, error) {
	return r.filter(func(e *models.EscrowTransaction) bool { return e.Status == status }), nil
}

func (r escrowRepo) filter(keep func(*models.EscrowTransaction) bool) []*models.EscrowTransaction {
	var out []*models.EscrowTransaction
	for _, e := range r.t.st.escrows {
		if keep(e) {
			out = append(out, cloneEscrow(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// --- revisions ---

type revisionRepo struct{ t *memTx }

func (r revisionRepo) Insert(_ context.Context, rev *models.WorkRevision) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	rev.SubmittedAt = r.t.now()
	r.t.st.revisions = append(r.t.st.revisions, cloneRevision(rev))
	return nil
}

func (r revisionRepo) Latest(_ context.Context, escrowID uuid.UUID) (*models.WorkRevision, error) {
	var latest *models.WorkRevision
	for _, rev := range r.t.st.revisions {
		if rev.EscrowTransactionID == escrowID && (latest == nil || rev.RevisionNumber > latest.RevisionNumber) {
			latest = rev
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("revision for escrow %s: %w", escrowID, models.ErrNotFound)
	}
	return cloneRevision(latest), nil
}

func (r revisionRepo) Update(_ context.Context, rev *models.WorkRevision) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	for i, cur := range r.t.st.revisions {
		if cur.ID == rev.ID {
			r.t.st.revisions[i] = cloneRevision(rev)
			return nil
		}
	}
	return fmt.Errorf("revision %s: %w", rev.ID, models.ErrNotFound)
}

func (r revisionRepo) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]*models.WorkRevision, error) {
	var out []*models.WorkRevision
	for _, rev := range r.t.st.revisions {
		if rev.EscrowTransactionID == escrowID {
			out = append(out, cloneRevision(rev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RevisionNumber < out[j].RevisionNumber })
	return out, nil
}

// --- jobs ---

type jobRepo struct{ t *memTx }

func (r jobRepo) Insert(_ context.Context, j *models.JobPosting) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	if err := r.t.store.fault("jobs.insert"); err != nil {
		return err
	}
	now := r.t.now()
	j.CreatedAt, j.UpdatedAt = now, now
	cp := *j
	r.t.st.jobs[j.ID] = &cp
	return nil
}

func (r jobRepo) Get(_ context.Context, id uuid.UUID) (*models.JobPosting, error) {
	j, ok := r.t.st.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (r jobRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.JobPosting, error) {
	if err := r.t.writable(); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r jobRepo) Update(_ context.Context, j *models.JobPosting, prev models.JobStatus) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	cur, ok := r.t.st.jobs[j.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", j.ID, models.ErrNotFound)
	}
	if cur.Status != prev {
		return models.ErrConflict
	}
	j.UpdatedAt = r.t.now()
	cp := *j
	r.t.st.jobs[j.ID] = &cp
	return nil
}

func (r jobRepo) ListByStatus(_ context.Context, status models.JobStatus) ([]*models.JobPosting, error) {
	var out []*models.JobPosting
	for _, j := range r.t.st.jobs {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- bids ---

type bidRepo struct{ t *memTx }

func (r bidRepo) Insert(_ context.Context, b *models.JobBid) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	for _, cur := range r.t.st.bids {
		if cur.JobID == b.JobID && cur.SellerID == b.SellerID {
			return models.ErrDuplicateBid
		}
	}
	b.CreatedAt = r.t.now()
	cp := *b
	r.t.st.bids = append(r.t.st.bids, &cp)
	return nil
}

func (r bidRepo) Get(_ context.Context, id uuid.UUID) (*models.JobBid, error) {
	for _, b := range r.t.st.bids {
		if b.ID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("bid %s: %w", id, models.ErrNotFound)
}

func (r bidRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.JobBid, error) {
	var out []*models.JobBid
	for _, b := range r.t.st.bids {
		if b.JobID == jobID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r bidRepo) HasBid(_ context.Context, jobID, sellerID uuid.UUID) (bool, error) {
	for _, b := range r.t.st.bids {
		if b.JobID == jobID && b.SellerID == sellerID {
			return true, nil
		}
	}
	return false, nil
}

func (r bidRepo) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	bids, _ := r.ListByJob(ctx, jobID)
	return len(bids), nil
}

func (r bidRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.BidStatus) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	for _, b := range r.t.st.bids {
		if b.ID == id {
			b.Status = status
			return nil
		}
	}
	return fmt.Errorf("bid %s: %w", id, models.ErrNotFound)
}

func (r bidRepo) RejectPending(_ context.Context, jobID, keep uuid.UUID) (int, error) {
	if err := r.t.writable(); err != nil {
		return 0, err
	}
	n := 0
	for _, b := range r.t.st.bids {
		if b.JobID == jobID && b.ID != keep && b.Status == models.BidPending {
			b.Status = models.BidRejected
			n++
		}
	}
	return n, nil
}

// --- payments ---

type paymentRepo struct{ t *memTx }

func (r paymentRepo) Insert(_ context.Context, p *models.PaymentRequest) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	p.CreatedAt = r.t.now()
	cp := *p
	r.t.st.payments[p.ID] = &cp
	return nil
}

func (r paymentRepo) Get(_ context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	p, ok := r.t.st.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment request %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r paymentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	if err := r.t.writable(); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r paymentRepo) Update(_ context.Context, p *models.PaymentRequest, prev models.PaymentStatus) error {
	if err := r.t.writable(); err != nil {
		return err
	}
	cur, ok := r.t.st.payments[p.ID]
	if !ok {
		return fmt.Errorf("payment request %s: %w", p.ID, models.ErrNotFound)
	}
	if cur.Status != prev {
		return models.ErrConflict
	}
	cp := *p
	r.t.st.payments[p.ID] = &cp
	return nil
}

func (r paymentRepo) ListByStatus(_ context.Context, status models.PaymentStatus) ([]*models.PaymentRequest, error) {
	return r.filter(func(p *models.PaymentRequest) bool { return p.Status == status }), nil
}

func (r paymentRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.PaymentRequest, error) {
	return r.filter(func(p *models.PaymentRequest) bool { return p.UserID == userID }), nil
}

func (r paymentRepo) filter(keep func(*models.PaymentRequest) bool) []*models.PaymentRequest {
	var out []*models.PaymentRequest
	for _, p := range r.t.st.payments {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
