package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRateLimiter is a mock implementation of RateLimiterInterface
type MockRateLimiter struct {
	mock.Mock
}

var _ RateLimiterInterface = new(MockRateLimiter)

func (m *MockRateLimiter) Acquire(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
