package marketplace

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
)

// MockClient is a mock implementation of ClientInterface
type MockClient struct {
	mock.Mock
}

var _ ClientInterface = new(MockClient)

func (m *MockClient) SearchPayments(ctx context.Context, seller *data.Seller, params SearchParams) (*PaymentSearchResult, error) {
	args := m.Called(ctx, seller, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentSearchResult), args.Error(1)
}

func (m *MockClient) GetPayment(ctx context.Context, seller *data.Seller, paymentID int64) (*Payment, error) {
	args := m.Called(ctx, seller, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockClient) GetOrder(ctx context.Context, seller *data.Seller, orderID int64) (*Order, error) {
	args := m.Called(ctx, seller, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockClient) GetShipmentCosts(ctx context.Context, seller *data.Seller, shipmentID int64) (*ShipmentCosts, error) {
	args := m.Called(ctx, seller, shipmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ShipmentCosts), args.Error(1)
}

func (m *MockClient) CreateReleaseReport(ctx context.Context, seller *data.Seller, beginDate, endDate time.Time) (string, error) {
	args := m.Called(ctx, seller, beginDate, endDate)
	return args.String(0), args.Error(1)
}

func (m *MockClient) DownloadReleaseReport(ctx context.Context, seller *data.Seller, fileName string) ([]ReleaseReportRow, error) {
	args := m.Called(ctx, seller, fileName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ReleaseReportRow), args.Error(1)
}

// MockTokenManager is a mock implementation of TokenManagerInterface
type MockTokenManager struct {
	mock.Mock
}

var _ TokenManagerInterface = new(MockTokenManager)

func (m *MockTokenManager) AccessToken(ctx context.Context, seller *data.Seller) (string, error) {
	args := m.Called(ctx, seller)
	return args.String(0), args.Error(1)
}
