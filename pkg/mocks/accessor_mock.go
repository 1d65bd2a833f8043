// Package mocks provides testify mocks for the external collaborator
// interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPriceAccessor is a mock implementation of prices.Accessor.
type MockPriceAccessor struct {
	mock.Mock
}

func (m *MockPriceAccessor) GetPrice(ctx context.Context, token, chain string) (float64, error) {
	args := m.Called(ctx, token, chain)

	return args.Get(0).(float64), args.Error(1)
}

func (m *MockPriceAccessor) GetBalance(ctx context.Context, wallet, token, chain string) (float64, error) {
	args := m.Called(ctx, wallet, token, chain)

	return args.Get(0).(float64), args.Error(1)
}
