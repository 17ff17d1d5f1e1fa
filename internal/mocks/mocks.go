// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ElLumy/chameleon/api/schemas"
)

// -- Generator Mock --

// MockGenerator mocks lifecycle.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Init(ctx context.Context) (*schemas.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Profile), args.Error(1)
}

func (m *MockGenerator) RegenerateProfile(ctx context.Context) (*schemas.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Profile), args.Error(1)
}

// -- Interceptor Mocks --

// MockInterceptor mocks orchestrator.Interceptor and records the order in
// which Init calls arrive through an optional shared Journal.
type MockInterceptor struct {
	mock.Mock
	Name    string
	Journal *Journal
}

func (m *MockInterceptor) Init(profile *schemas.Profile) error {
	if m.Journal != nil {
		m.Journal.Add(m.Name)
	}
	return m.Called(profile).Error(0)
}

// MockMetaInterceptor mocks orchestrator.MetaInterceptor.
type MockMetaInterceptor struct {
	mock.Mock
	Journal *Journal
}

func (m *MockMetaInterceptor) Init() error {
	if m.Journal != nil {
		m.Journal.Add("MetaInterceptor")
	}
	return m.Called().Error(0)
}

// Journal is a concurrency-safe ordered log of calls.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) Add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// -- Repository Mock --

// MockRepository mocks store.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) RecordProfile(ctx context.Context, p *schemas.Profile) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) RecordVisit(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockRepository) Statistics(ctx context.Context) (schemas.Statistics, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Statistics), args.Error(1)
}

func (m *MockRepository) Export(ctx context.Context) ([]schemas.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Profile), args.Error(1)
}

func (m *MockRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockRepository) PutSetting(ctx context.Context, key, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockRepository) Close() error {
	return m.Called().Error(0)
}
