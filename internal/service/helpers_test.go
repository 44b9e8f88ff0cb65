package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/models"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/types"
)

func boolPtr(b bool) *bool { return &b }

// mockUserRepository keeps users in insertion order
type mockUserRepository struct {
	users map[string]*models.User
	order []string
}

func newMockUserRepository(users ...*models.User) *mockUserRepository {
	r := &mockUserRepository{users: make(map[string]*models.User)}
	for i, u := range users {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
		}
		r.users[u.ID] = u
		r.order = append(r.order, u.ID)
	}
	return r
}

func (r *mockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *mockUserRepository) List(ctx context.Context) ([]models.User, error) {
	out := make([]models.User, 0, len(r.users))
	for _, id := range r.order {
		if u, ok := r.users[id]; ok {
			out = append(out, *u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *mockUserRepository) ToggleKYC(ctx context.Context, id string) (bool, error) {
	u, ok := r.users[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	next := !u.KYCApproved()
	u.KYC = boolPtr(next)
	return next, nil
}

func (r *mockUserRepository) Delete(ctx context.Context, id string) error {
	if _, ok := r.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *mockUserRepository) IsAdmin(ctx context.Context, id string) (bool, error) {
	u, ok := r.users[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	return u.IsAdmin, nil
}

// mockPropertyRepository assigns sequential ids and creation times
type mockPropertyRepository struct {
	mu        sync.Mutex
	props     map[string]*models.Property
	order     []string
	seq       int
	createErr error
	updateErr error
	gets      int
}

func newMockPropertyRepository() *mockPropertyRepository {
	return &mockPropertyRepository{props: make(map[string]*models.Property)}
}

func (r *mockPropertyRepository) Create(ctx context.Context, p *models.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	p.ID = fmt.Sprintf("prop-%d", r.seq)
	p.CreatedAt = time.Date(2024, 1, 1, 0, r.seq, 0, 0, time.UTC)
	p.UpdatedAt = p.CreatedAt
	cp := cloneProperty(p)
	r.props[p.ID] = &cp
	r.order = append(r.order, p.ID)
	return nil
}

func (r *mockPropertyRepository) Update(ctx context.Context, p *models.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.props[p.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := cloneProperty(p)
	r.props[p.ID] = &cp
	return nil
}

func (r *mockPropertyRepository) GetByID(ctx context.Context, id string) (*models.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	p, ok := r.props[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := cloneProperty(p)
	return &cp, nil
}

func (r *mockPropertyRepository) List(ctx context.Context, newestFirst bool) ([]models.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Property, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneProperty(r.props[id]))
	}
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (r *mockPropertyRepository) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make(map[string]string)
	for _, id := range ids {
		if p, ok := r.props[id]; ok {
			names[id] = p.Name
		}
	}
	return names, nil
}

// mockKYCRepository approves through the user repository like the real Submit
type mockKYCRepository struct {
	users       *mockUserRepository
	submissions map[string]*models.KYCSubmission
	existsErr   error
	submitErr   error
	existsCalls int
}

func newMockKYCRepository(users *mockUserRepository) *mockKYCRepository {
	return &mockKYCRepository{users: users, submissions: make(map[string]*models.KYCSubmission)}
}

func (r *mockKYCRepository) GetByUserID(ctx context.Context, userID string) (*models.KYCSubmission, error) {
	s, ok := r.submissions[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (r *mockKYCRepository) Exists(ctx context.Context, userID string) (bool, error) {
	r.existsCalls++
	if r.existsErr != nil {
		return false, r.existsErr
	}
	_, ok := r.submissions[userID]
	return ok, nil
}

func (r *mockKYCRepository) Submit(ctx context.Context, s *models.KYCSubmission, approve bool) error {
	if r.submitErr != nil {
		return r.submitErr
	}
	if _, ok := r.submissions[s.UserID]; ok {
		return storage.ErrConflict
	}
	s.ID = "kyc-" + s.UserID
	r.submissions[s.UserID] = s
	if approve && r.users != nil {
		if u, ok := r.users.users[s.UserID]; ok {
			u.KYC = boolPtr(true)
		}
	}
	return nil
}

// mockOwnershipRepository is shared with mockRetirementRepository for Confirm
type mockOwnershipRepository struct {
	owners   map[string]*models.Ownership
	holdings map[string][]models.Holding
	reads    int
}

func newMockOwnershipRepository(owners ...*models.Ownership) *mockOwnershipRepository {
	r := &mockOwnershipRepository{owners: make(map[string]*models.Ownership), holdings: make(map[string][]models.Holding)}
	for _, o := range owners {
		r.owners[o.ID] = o
	}
	return r
}

func (r *mockOwnershipRepository) GetByID(ctx context.Context, id string) (*models.Ownership, error) {
	r.reads++
	o, ok := r.owners[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *mockOwnershipRepository) ListByUser(ctx context.Context, userID string) ([]models.Ownership, error) {
	out := []models.Ownership{}
	for _, o := range r.owners {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockOwnershipRepository) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	return r.holdings[userID], nil
}

// mockRetirementRepository enforces the same transitions as the Postgres repository
type mockRetirementRepository struct {
	owners      *mockOwnershipRepository
	retirements map[string]*models.Retirement
	seq         int
	created     int
	submitErr   error
	confirmErr  error
}

func newMockRetirementRepository(owners *mockOwnershipRepository) *mockRetirementRepository {
	return &mockRetirementRepository{owners: owners, retirements: make(map[string]*models.Retirement)}
}

func (r *mockRetirementRepository) CreatePending(ctx context.Context, ret *models.Retirement) error {
	r.seq++
	r.created++
	ret.ID = fmt.Sprintf("ret-%d", r.seq)
	ret.Status = types.RetirementPending
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Date(2024, 1, 1, 0, 0, r.seq, 0, time.UTC)
	}
	if ret.UpdatedAt.IsZero() {
		ret.UpdatedAt = ret.CreatedAt
	}
	cp := *ret
	r.retirements[ret.ID] = &cp
	return nil
}

func (r *mockRetirementRepository) GetByID(ctx context.Context, id string) (*models.Retirement, error) {
	ret, ok := r.retirements[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ret
	return &cp, nil
}

func (r *mockRetirementRepository) ListByUser(ctx context.Context, userID string) ([]models.Retirement, error) {
	out := []models.Retirement{}
	for _, ret := range r.retirements {
		if ret.UserID == userID {
			out = append(out, *ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *mockRetirementRepository) ListByStatus(ctx context.Context, status types.RetirementStatus, olderThan time.Time, limit int) ([]models.Retirement, error) {
	out := []models.Retirement{}
	for _, ret := range r.retirements {
		if ret.Status == status && !ret.CreatedAt.After(olderThan) {
			out = append(out, *ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockRetirementRepository) ReservedCredits(ctx context.Context, ownerID string) (int64, error) {
	var reserved int64
	for _, ret := range r.retirements {
		if ret.OwnerID == ownerID && !ret.Status.Final() {
			reserved += ret.Credits
		}
	}
	return reserved, nil
}

func (r *mockRetirementRepository) MarkSubmitted(ctx context.Context, id, txHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.submitErr != nil {
		return r.submitErr
	}
	ret, ok := r.retirements[id]
	if !ok {
		return storage.ErrNotFound
	}
	if ret.Status != types.RetirementPending {
		return storage.ErrInvalidTransition
	}
	ret.Status = types.RetirementSubmitted
	ret.TxHash = &txHash
	return nil
}

func (r *mockRetirementRepository) MarkFailed(ctx context.Context, id, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ret, ok := r.retirements[id]
	if !ok {
		return storage.ErrNotFound
	}
	if ret.Status.Final() {
		return storage.ErrInvalidTransition
	}
	ret.Status = types.RetirementFailed
	ret.Error = &reason
	return nil
}

func (r *mockRetirementRepository) Confirm(ctx context.Context, id string) (*models.Retirement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.confirmErr != nil {
		return nil, r.confirmErr
	}
	ret, ok := r.retirements[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if ret.Status == types.RetirementConfirmed {
		cp := *ret
		return &cp, nil
	}
	if ret.Status != types.RetirementSubmitted {
		return nil, storage.ErrInvalidTransition
	}

	own, ok := r.owners.owners[ret.OwnerID]
	if !ok || own.Credits < ret.Credits {
		reason := "insufficient credits"
		ret.Status = types.RetirementFailed
		ret.Error = &reason
		return nil, fmt.Errorf("ownership %s: %w", ret.OwnerID, storage.ErrConflict)
	}
	own.Credits -= ret.Credits
	if own.Credits == 0 {
		delete(r.owners.owners, own.ID)
	}
	ret.Status = types.RetirementConfirmed
	cp := *ret
	return &cp, nil
}

// mockLedger records appended events
type mockLedger struct {
	events    []models.ActivityEvent
	recentErr error
}

func (l *mockLedger) Append(ctx context.Context, events ...models.ActivityEvent) error {
	l.events = append(l.events, events...)
	return nil
}

func (l *mockLedger) Recent(ctx context.Context, userID string, limit int) ([]models.ActivityEvent, error) {
	if l.recentErr != nil {
		return nil, l.recentErr
	}
	out := []models.ActivityEvent{}
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if l.events[i].UserID == userID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

// mockObjectStore keeps uploaded bodies in memory
type mockObjectStore struct {
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (s *mockObjectStore) Put(ctx context.Context, bucket, prefix, name string, r io.Reader) (*storage.StoredObject, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	key := prefix + "/" + name
	s.objects[bucket+"/"+key] = body
	return &storage.StoredObject{
		Bucket: bucket,
		Key:    key,
		URL:    "http://localhost:8080/storage/" + bucket + "/" + key,
		Size:   int64(len(body)),
	}, nil
}

func (s *mockObjectStore) Delete(bucket, key string) error {
	delete(s.objects, bucket+"/"+key)
	s.deleted = append(s.deleted, bucket+"/"+key)
	return nil
}

// mockStatusCache stores JSON like the Redis-backed cache
type mockStatusCache struct {
	entries map[string][]byte
	getErr  error
}

func newMockStatusCache() *mockStatusCache {
	return &mockStatusCache{entries: make(map[string][]byte)}
}

func (c *mockStatusCache) KYCStatusKey(userID string) string { return "kyc:status:" + userID }

func (c *mockStatusCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.getErr != nil {
		return false, c.getErr
	}
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mockStatusCache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *mockStatusCache) Invalidate(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// mockLocker mirrors BusyLocks: one holder per (scope, owner)
type mockLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]bool)}
}

func (l *mockLocker) Acquire(ctx context.Context, scope, owner string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := scope + ":" + owner
	if l.held[key] {
		return nil, storage.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// mockGateway stands in for the backend order API
type mockGateway struct {
	order       *adapter.Order
	createErr   error
	verifyErr   error
	createCalls []adapter.CreateOrderRequest
	verifyCalls []adapter.VerifyPaymentRequest
}

func (g *mockGateway) CreateOrder(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.Order, error) {
	g.createCalls = append(g.createCalls, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.order, nil
}

func (g *mockGateway) VerifyPayment(ctx context.Context, req adapter.VerifyPaymentRequest) error {
	g.verifyCalls = append(g.verifyCalls, req)
	return g.verifyErr
}

// mockChain stands in for the retirement contract. It records the hash before
// "broadcasting", like the real contract client.
type mockChain struct {
	txHash     string
	retireErr  error // fails before anything is recorded
	sendErr    error // fails after the hash is recorded
	status     adapter.ReceiptStatus
	receiptErr error
	calls      []adapter.RetireCall
	onCall     func()
}

func (c *mockChain) Retire(ctx context.Context, call adapter.RetireCall, record func(txHash string) error) (string, error) {
	c.calls = append(c.calls, call)
	if c.onCall != nil {
		c.onCall()
	}
	if c.retireErr != nil {
		return "", c.retireErr
	}
	if err := record(c.txHash); err != nil {
		return "", err
	}
	if c.sendErr != nil {
		return c.txHash, c.sendErr
	}
	return c.txHash, nil
}

func (c *mockChain) ReceiptStatus(ctx context.Context, txHash string) (adapter.ReceiptStatus, error) {
	return c.status, c.receiptErr
}

// staticKYC resolves every user to one status
type staticKYC types.KYCStatus

func (s staticKYC) Status(ctx context.Context, user *models.User) types.KYCStatus {
	return types.KYCStatus(s)
}

// recordingPublisher captures published routing keys
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	data []interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.data = append(p.data, data)
}

func (p *recordingPublisher) Close() error { return nil }

func imageUpload(name, body string) *ImageUpload {
	return &ImageUpload{Filename: name, Body: bytes.NewBufferString(body)}
}
