package tests

import (
	"context"
	"sync"
	"sync/atomic"

	"groupride/internal/domain"
	"groupride/internal/geo"
	"groupride/internal/location"
	"groupride/internal/redis"
	"groupride/internal/repository"
	"groupride/internal/store"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// Counters for verification
	CreateCallCount   int32
	AddRiderCallCount int32
	GetByIDCallCount  int32

	// Error injection
	CreateError   error
	AddRiderError error
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.Ride),
	}
}

// AddRide adds a ride to the mock repository.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = copyRide(ride)
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = copyRide(ride)
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRide(ride), nil
}

func (m *MockRideRepository) GetAll(ctx context.Context) ([]*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		result = append(result, copyRide(r))
	}
	return result, nil
}

func (m *MockRideRepository) AddRider(ctx context.Context, rideID, riderID string) (bool, error) {
	atomic.AddInt32(&m.AddRiderCallCount, 1)
	if m.AddRiderError != nil {
		return false, m.AddRiderError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if ride.HasRider(riderID) {
		return false, nil
	}
	ride.Riders = append(ride.Riders, riderID)
	return true, nil
}

// GetRide returns the stored ride for test assertions.
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rides[id]
}

// CountRides returns the number of stored rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

func copyRide(r *domain.Ride) *domain.Ride {
	c := *r
	c.Checkpoints = append([]domain.Checkpoint(nil), r.Checkpoints...)
	c.Riders = append([]string(nil), r.Riders...)
	return &c
}

// ──────────────────────────────────────────────
// MOCK USER REPOSITORY
// ──────────────────────────────────────────────

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User

	CreateCallCount int32
	GetAllError     error
}

// NewMockUserRepository creates a new mock user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*domain.User)}
}

// AddUser adds a user to the mock repository.
func (m *MockUserRepository) AddUser(user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockUserRepository) GetAll(ctx context.Context) ([]*domain.User, error) {
	if m.GetAllError != nil {
		return nil, m.GetAllError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		result = append(result, &c)
	}
	return result, nil
}

// ──────────────────────────────────────────────
// MOCK POSITION STORE
// ──────────────────────────────────────────────

// MockPositionStore is a mock implementation of PositionStoreInterface.
// FindRidersNear filters with real distances.
type MockPositionStore struct {
	mu        sync.RWMutex
	positions map[string]map[string]geo.Point

	UpdatePositionCallCount int32

	UpdatePositionError error
	FindRidersNearError error
}

// NewMockPositionStore creates a new mock position store.
func NewMockPositionStore() *MockPositionStore {
	return &MockPositionStore{positions: make(map[string]map[string]geo.Point)}
}

func (m *MockPositionStore) UpdatePosition(ctx context.Context, rideID, riderID string, p geo.Point) error {
	atomic.AddInt32(&m.UpdatePositionCallCount, 1)
	if m.UpdatePositionError != nil {
		return m.UpdatePositionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions[rideID] == nil {
		m.positions[rideID] = make(map[string]geo.Point)
	}
	m.positions[rideID][riderID] = p
	return nil
}

func (m *MockPositionStore) Position(ctx context.Context, rideID, riderID string) (*geo.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[rideID][riderID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MockPositionStore) RevokeSharing(ctx context.Context, rideID, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions[rideID], riderID)
	return nil
}

func (m *MockPositionStore) FindRidersNear(ctx context.Context, rideID string, center geo.Point, radiusMeters float64) ([]redis.RiderPosition, error) {
	if m.FindRidersNearError != nil {
		return nil, m.FindRidersNearError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []redis.RiderPosition
	for id, p := range m.positions[rideID] {
		d := geo.DistanceMeters(p, center)
		if d <= radiusMeters {
			result = append(result, redis.RiderPosition{RiderID: id, Lat: p.Latitude, Lng: p.Longitude, DistanceMeters: d})
		}
	}
	return result, nil
}

// HasPosition checks if a rider position exists.
func (m *MockPositionStore) HasPosition(rideID, riderID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[rideID][riderID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK LOCATION PROVIDER
// ──────────────────────────────────────────────

// MockProvider is a scripted location.Provider.
type MockProvider struct {
	mu         sync.Mutex
	permission location.Permission
	fix        *geo.Point
	fixErr     error
	watches    []*location.Watch
}

// NewMockProvider creates a provider answering permission with perm.
func NewMockProvider(perm location.Permission) *MockProvider {
	return &MockProvider{permission: perm}
}

// SetFix sets the position returned by CurrentPosition.
func (m *MockProvider) SetFix(p geo.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fix = &p
	m.fixErr = nil
}

// SetFixError makes CurrentPosition fail with err.
func (m *MockProvider) SetFixError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fix = nil
	m.fixErr = err
}

// Emit sends p to every open watch.
func (m *MockProvider) Emit(p geo.Point) {
	m.mu.Lock()
	watches := append([]*location.Watch(nil), m.watches...)
	m.mu.Unlock()
	for _, w := range watches {
		w.Send(p)
	}
}

func (m *MockProvider) RequestPermission(ctx context.Context) (location.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission, nil
}

func (m *MockProvider) CurrentPosition(ctx context.Context) (geo.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixErr != nil {
		return geo.Point{}, m.fixErr
	}
	if m.fix == nil {
		return geo.Point{}, location.ErrNoFix
	}
	return *m.fix, nil
}

func (m *MockProvider) Watch(ctx context.Context, opts location.WatchOptions) (*location.Watch, error) {
	w := location.NewWatch(opts, 16, nil)
	m.mu.Lock()
	m.watches = append(m.watches, w)
	m.mu.Unlock()
	return w, nil
}

// ──────────────────────────────────────────────
// FAULTY STORE
// ──────────────────────────────────────────────

// FaultyStore wraps a store.Store and fails writes or reads on demand.
type FaultyStore struct {
	store.Store

	mu       sync.Mutex
	writeErr error
	readErr  error

	PushCallCount int32
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner store.Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// FailWrites makes Push and Update return err until cleared with nil.
func (f *FaultyStore) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// FailReads makes Get return err until cleared with nil.
func (f *FaultyStore) FailReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *FaultyStore) Push(ctx context.Context, path string, record any) (string, error) {
	atomic.AddInt32(&f.PushCallCount, 1)
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.Store.Push(ctx, path, record)
}

func (f *FaultyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *FaultyStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return store.Snapshot{}, err
	}
	return f.Store.Get(ctx, path)
}

// ──────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────

// Checkpoint coordinates in central San Francisco.
var (
	startPoint  = geo.Point{Latitude: 37.78825, Longitude: -122.4324}
	middlePoint = geo.Point{Latitude: 37.79825, Longitude: -122.4324}
	finishPoint = geo.Point{Latitude: 37.80825, Longitude: -122.4324}
)

// offsetNorth returns p moved north by meters.
func offsetNorth(p geo.Point, meters float64) geo.Point {
	return geo.Point{Latitude: p.Latitude + meters/111195.0, Longitude: p.Longitude}
}

// newTestRide returns a three-checkpoint ride with the given riders.
func newTestRide(id string, riders ...string) *domain.Ride {
	return &domain.Ride{
		ID:          id,
		OrganizerID: "organizer-1",
		Title:       "Sunday Loop",
		Date:        "2030-06-01",
		Riders:      riders,
		Checkpoints: []domain.Checkpoint{
			{ID: "cp-start", Name: "Start", Location: startPoint, RadiusMeters: 50, Position: 0},
			{ID: "cp-middle", Name: "Middle", Location: middlePoint, RadiusMeters: 50, Position: 1},
			{ID: "cp-finish", Name: "Finish", Location: finishPoint, RadiusMeters: 50, Position: 2},
		},
	}
}
