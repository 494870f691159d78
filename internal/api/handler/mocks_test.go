package handler_test

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/llm-gateway/internal/domain"
	"github.com/Rrens/llm-gateway/internal/service"
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, in service.CompletionInput) (*service.CompletionOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CompletionOutput), args.Error(1)
}

type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) Create(ctx context.Context, req domain.SessionCreate) (*domain.SessionSummary, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSummary), args.Error(1)
}

func (m *MockSessionManager) List(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SessionSummary), args.Error(1)
}

func (m *MockSessionManager) Get(ctx context.Context, sessionID, userID string) (*domain.SessionSummary, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSummary), args.Error(1)
}

func (m *MockSessionManager) Delete(ctx context.Context, sessionID, userID string) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *MockSessionManager) Messages(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

type MockModelSource struct {
	mock.Mock
}

func (m *MockModelSource) Models(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

type stubHealth struct {
	status service.HealthStatus
}

func (s stubHealth) Health(context.Context) service.HealthStatus {
	return s.status
}
