package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) ResolveContact(userID int64) (*models.Contact, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contact), args.Error(1)
}

func (m *MockIdentity) ResolveUserByNIN(nin string) (int64, error) {
	args := m.Called(nin)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockIdentity) AttributesFor(userID int64) (*models.IdentityAttributes, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IdentityAttributes), args.Error(1)
}

func (m *MockIdentity) NINFor(userID int64) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}
