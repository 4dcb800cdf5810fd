package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"studiobook/internal/apperr"
	"studiobook/internal/database"
	"studiobook/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func newTestGate(accounts AccountStore) (*Gate, *Tokens) {
	tokens := NewTokens("test-secret", time.Hour, "studiobook")
	return NewGate(tokens, accounts, "Ops@Studio.test", zerolog.Nop()), tokens
}

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour, "studiobook")
	tok, err := tokens.Issue("u1", "dina@example.com")
	require.NoError(t, err)

	claims, err := tokens.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Sub)
	assert.Equal(t, "dina@example.com", claims.Email)

	_, err = NewTokens("other", time.Hour, "studiobook").Parse(tok)
	assert.Error(t, err)

	expired, err := NewTokens("secret", -time.Minute, "studiobook").Issue("u1", "dina@example.com")
	require.NoError(t, err)
	_, err = tokens.Parse(expired)
	assert.Error(t, err)
}

func TestTokens_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{Sub: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "studiobook"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens("secret", time.Hour, "studiobook").Parse(tok)
	assert.Error(t, err)
}

func TestGate_Authenticate(t *testing.T) {
	g, tokens := newTestGate(nil)

	_, err := g.Authenticate("")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = g.Authenticate("garbage")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	tok, _ := tokens.Issue("u1", "dina@example.com")
	id, err := g.Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
	assert.False(t, id.IsAdmin)

	tok, _ = tokens.Issue("op", "ops@studio.test")
	id, err = g.Authenticate(tok)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin)
}

func TestCapabilities(t *testing.T) {
	user := models.Identity{UID: "u1", Email: "dina@example.com"}
	admin := models.Identity{UID: "op", Email: "ops@studio.test", IsAdmin: true}

	assert.True(t, apperr.Is(RequireAdmin(user), apperr.KindForbidden))
	assert.NoError(t, RequireAdmin(admin))
	assert.True(t, apperr.Is(RequireAdmin(models.Identity{}), apperr.KindUnauthorized))

	assert.NoError(t, CanActOn(user, "u1"))
	assert.True(t, apperr.Is(CanActOn(user, "u2"), apperr.KindForbidden))
	assert.NoError(t, CanActOn(admin, "u2"))
	assert.True(t, apperr.Is(CanActOn(models.Identity{}, "u1"), apperr.KindUnauthorized))

	assert.NoError(t, RequireUser(user))
	assert.True(t, apperr.Is(RequireUser(models.Identity{Email: "dina@example.com"}), apperr.KindUnauthorized))
}

func TestGate_Login(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	accounts := new(MockAccounts)
	accounts.On("GetAccountByEmail", mock.Anything, "dina@example.com").
		Return(&models.Account{UID: "u1", Email: "dina@example.com", PasswordHash: hash}, nil)
	accounts.On("GetAccountByEmail", mock.Anything, "nobody@example.com").
		Return(nil, fmt.Errorf("account: %w", database.ErrNotFound))

	g, tokens := newTestGate(accounts)
	ctx := context.Background()

	res, err := g.Login(ctx, "dina@example.com", "correct horse")
	require.NoError(t, err)
	claims, err := tokens.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Sub)

	_, err = g.Login(ctx, "dina@example.com", "wrong")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = g.Login(ctx, "nobody@example.com", "x")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = g.Login(ctx, "", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
