package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"studiobook/internal/apperr"
	"studiobook/internal/database"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	admin = models.Identity{UID: "op", Email: "ops@studio.test", IsAdmin: true}
	user  = models.Identity{UID: "u1", Email: "dina@example.com"}
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAccount(ctx context.Context, acct *models.Account) error {
	return m.Called(ctx, acct).Error(0)
}

func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockStore) UpdateProfile(ctx context.Context, uid, displayName, email string) error {
	return m.Called(ctx, uid, displayName, email).Error(0)
}

func (m *MockStore) ListProfiles(ctx context.Context) ([]*models.UserProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.UserProfile), args.Error(1)
}

func (m *MockStore) SetRole(ctx context.Context, uid string, role models.Role) error {
	return m.Called(ctx, uid, role).Error(0)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) NotifyAccountCreated(email, password, displayName string) {
	m.Called(email, password, displayName)
}

func (m *MockMailer) SendLoginDetails(ctx context.Context, email, password string) error {
	return m.Called(ctx, email, password).Error(0)
}

func TestService_CreateUser(t *testing.T) {
	store := new(MockStore)
	mailer := new(MockMailer)
	svc := NewService(store, mailer, "ops@studio.test", zerolog.Nop())
	ctx := context.Background()

	store.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a *models.Account) bool {
		return a.Email == "new@example.com"
	})).Run(func(args mock.Arguments) {
		acct := args.Get(1).(*models.Account)
		acct.UID = "u9"
	}).Return(nil).Once()
	mailer.On("NotifyAccountCreated", "new@example.com", "s3cret!", "New User").Once()

	acct, err := svc.CreateUser(ctx, admin, " new@example.com ", "s3cret!", "New User")
	require.NoError(t, err)
	assert.Equal(t, "u9", acct.UID)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte("s3cret!")))

	store.On("CreateAccount", mock.Anything, mock.Anything).
		Return(fmt.Errorf("x: %w", database.ErrEmailExists)).Once()
	_, err = svc.CreateUser(ctx, admin, "new@example.com", "s3cret!", "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = svc.CreateUser(ctx, user, "x@example.com", "pw", "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.CreateUser(ctx, admin, "x@example.com", "", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.CreateUser(ctx, admin, "not-an-email", "pw", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	store.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestService_EnsureOperator(t *testing.T) {
	store := new(MockStore)
	svc := NewService(store, new(MockMailer), "ops@studio.test", zerolog.Nop())
	ctx := context.Background()

	store.On("GetAccountByEmail", mock.Anything, "ops@studio.test").
		Return(nil, fmt.Errorf("x: %w", database.ErrNotFound)).Once()
	store.On("CreateAccount", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Account).UID = "op"
	}).Return(nil).Once()
	store.On("SetRole", mock.Anything, "op", models.RoleAdmin).Return(nil).Once()

	require.NoError(t, svc.EnsureOperator(ctx, "hunter2"))

	store.On("GetAccountByEmail", mock.Anything, "ops@studio.test").
		Return(&models.Account{UID: "op"}, nil).Once()
	require.NoError(t, svc.EnsureOperator(ctx, "hunter2"))

	require.NoError(t, svc.EnsureOperator(ctx, ""))
	store.AssertExpectations(t)
}

func TestService_UpdateProfile(t *testing.T) {
	store := new(MockStore)
	svc := NewService(store, new(MockMailer), "ops@studio.test", zerolog.Nop())
	ctx := context.Background()

	store.On("UpdateProfile", mock.Anything, "u1", "Dina R.", "dina@example.com").Return(nil).Once()
	require.NoError(t, svc.UpdateProfile(ctx, user, "  Dina R. ", "dina@example.com"))

	assert.True(t, apperr.Is(svc.UpdateProfile(ctx, user, "   ", ""), apperr.KindValidation))
	assert.True(t, apperr.Is(svc.UpdateProfile(ctx, models.Identity{}, "Dina", ""), apperr.KindUnauthorized))

	store.On("UpdateProfile", mock.Anything, "u1", "Dina", "taken@example.com").
		Return(fmt.Errorf("x: %w", database.ErrEmailExists)).Once()
	assert.True(t, apperr.Is(svc.UpdateProfile(ctx, user, "Dina", "taken@example.com"), apperr.KindConflict))

	store.On("UpdateProfile", mock.Anything, "u1", "Dina", "").Return(errors.New("locked")).Once()
	assert.True(t, apperr.Is(svc.UpdateProfile(ctx, user, "Dina", ""), apperr.KindDependency))
}

func TestService_UpdateProfileOperatorEmail(t *testing.T) {
	store := new(MockStore)
	svc := NewService(store, new(MockMailer), "ops@studio.test", zerolog.Nop())
	ctx := context.Background()
	operator := models.Identity{UID: "op", Email: "ops@studio.test", IsAdmin: true}

	err := svc.UpdateProfile(ctx, user, "Dina", "ops@studio.test")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	err = svc.UpdateProfile(ctx, user, "Dina", " OPS@Studio.test ")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	err = svc.UpdateProfile(ctx, operator, "Operator", "elsewhere@studio.test")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	store.On("UpdateProfile", mock.Anything, "op", "Front Desk", "ops@studio.test").Return(nil).Once()
	require.NoError(t, svc.UpdateProfile(ctx, operator, "Front Desk", "ops@studio.test"))
	store.On("UpdateProfile", mock.Anything, "op", "Front Desk", "").Return(nil).Once()
	require.NoError(t, svc.UpdateProfile(ctx, operator, "Front Desk", ""))

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "UpdateProfile", mock.Anything, "u1", mock.Anything, mock.Anything)
}

func TestService_List(t *testing.T) {
	store := new(MockStore)
	svc := NewService(store, new(MockMailer), "ops@studio.test", zerolog.Nop())
	ctx := context.Background()

	store.On("ListProfiles", mock.Anything).Return([]*models.UserProfile{{UserID: "u1", Credits: 3}}, nil)

	profiles, err := svc.List(ctx, admin)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, int64(3), profiles[0].Credits)

	_, err = svc.List(ctx, user)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestService_SendLoginDetails(t *testing.T) {
	mailer := new(MockMailer)
	svc := NewService(new(MockStore), mailer, "ops@studio.test", zerolog.Nop())
	ctx := context.Background()

	mailer.On("SendLoginDetails", mock.Anything, "dina@example.com", "pw").Return(nil).Once()
	require.NoError(t, svc.SendLoginDetails(ctx, admin, "dina@example.com", "pw"))

	mailer.On("SendLoginDetails", mock.Anything, "dina@example.com", "pw").Return(errors.New("smtp down")).Once()
	assert.True(t, apperr.Is(svc.SendLoginDetails(ctx, admin, "dina@example.com", "pw"), apperr.KindDependency))

	assert.True(t, apperr.Is(svc.SendLoginDetails(ctx, admin, "", "pw"), apperr.KindValidation))
	assert.True(t, apperr.Is(svc.SendLoginDetails(ctx, user, "dina@example.com", "pw"), apperr.KindForbidden))
	mailer.AssertExpectations(t)
}
