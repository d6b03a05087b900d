package erp

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of ClientInterface
type MockClient struct {
	mock.Mock
}

var _ ClientInterface = new(MockClient)

func (m *MockClient) Post(ctx context.Context, path string, body json.RawMessage) (*PostResult, error) {
	args := m.Called(ctx, path, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PostResult), args.Error(1)
}

func (m *MockClient) SearchOpenParcels(ctx context.Context, eventType EventType, params ParcelSearchParams) (*ParcelSearchResult, error) {
	args := m.Called(ctx, eventType, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ParcelSearchResult), args.Error(1)
}

// MockTokenManager is a mock implementation of TokenManagerInterface
type MockTokenManager struct {
	mock.Mock
}

var _ TokenManagerInterface = new(MockTokenManager)

func (m *MockTokenManager) AccessToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockTokenManager) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
