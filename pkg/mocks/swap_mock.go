package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/quiverfi/quiver/pkg/swap"
)

// MockSwapProvider is a mock implementation of swap.Provider.
type MockSwapProvider struct {
	mock.Mock
}

func (m *MockSwapProvider) CreateOrder(ctx context.Context, req swap.OrderRequest) (*swap.Order, error) {
	args := m.Called(ctx, req)

	if order := args.Get(0); order != nil {
		return order.(*swap.Order), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockSwapProvider) GetOrderStatus(ctx context.Context, orderID string) (*swap.Order, error) {
	args := m.Called(ctx, orderID)

	if order := args.Get(0); order != nil {
		return order.(*swap.Order), args.Error(1)
	}

	return nil, args.Error(1)
}
