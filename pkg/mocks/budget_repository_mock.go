package mocks

import (
	"context"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockBudgetRepository is a mock implementation of persistence.BudgetRepository interface.
type MockBudgetRepository struct {
	mock.Mock
}

func (m *MockBudgetRepository) BudgetStatus(
	ctx context.Context,
	userID string,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, error) {
	args := m.Called(ctx, userID, now, defaults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.BudgetStatus), args.Error(1)
}

func (m *MockBudgetRepository) IncrementSpendIfWithin(
	ctx context.Context,
	userID string,
	amount float64,
	now time.Time,
	defaults models.BudgetLimits,
) (*models.BudgetStatus, bool, error) {
	args := m.Called(ctx, userID, amount, now, defaults)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}

	return args.Get(0).(*models.BudgetStatus), args.Bool(1), args.Error(2)
}

func (m *MockBudgetRepository) SetBudgetLimits(
	ctx context.Context,
	userID string,
	limits models.BudgetLimits,
	now time.Time,
) (*models.BudgetStatus, error) {
	args := m.Called(ctx, userID, limits, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.BudgetStatus), args.Error(1)
}

func (m *MockBudgetRepository) AppendSpendingRecord(ctx context.Context, record *models.SpendingRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockBudgetRepository) SpendingRecords(
	ctx context.Context,
	userID string,
	since time.Time,
) ([]*models.SpendingRecord, error) {
	args := m.Called(ctx, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.SpendingRecord), args.Error(1)
}
