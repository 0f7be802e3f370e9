package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"chat-server/internal/config"
	"chat-server/internal/database"
	"chat-server/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUsers struct {
	byEmail map[string]*models.User
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	if _, ok := f.byEmail[req.Email]; ok {
		return nil, database.ErrDuplicate
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{ID: uuid.New(), Username: req.Username, Email: req.Email, PasswordHash: string(hash)}
	f.byEmail[req.Email] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func newTestService() *Service {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour}}
	return NewService(&fakeUsers{byEmail: map[string]*models.User{}}, cfg)
}

func TestRegisterThenLogin(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	reg, err := s.Register(ctx, &models.RegisterRequest{Username: " alice ", Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "alice", reg.User.Username)
	assert.Empty(t, reg.User.PasswordHash)

	login, err := s.Login(ctx, &models.LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)

	userID, err := s.UserIDFromToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, userID)

	_, err = s.Login(ctx, &models.LoginRequest{Email: "alice@example.com", Password: "wrong password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Register(ctx, &models.RegisterRequest{Username: "alice2", Email: "alice@example.com", Password: "another one"})
	assert.Error(t, err)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestService()
	tests := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"missing fields", models.RegisterRequest{Email: "a@b.co"}},
		{"bad email", models.RegisterRequest{Username: "bob", Email: "bob", Password: "longenough"}},
		{"short password", models.RegisterRequest{Username: "bob", Email: "bob@b.co", Password: "short"}},
		{"short username", models.RegisterRequest{Username: "bo", Email: "bob@b.co", Password: "longenough"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), &tt.req)
			assert.Error(t, err)
		})
	}
}

func TestValidateTokenRejects(t *testing.T) {
	s := newTestService()
	user := &models.User{ID: uuid.New(), Username: "carol", Email: "c@x.io"}

	other := newTestService()
	other.cfg.JWT.Secret = []byte("different")
	foreign, err := other.GenerateToken(user)
	require.NoError(t, err)
	_, err = s.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.cfg.JWT.ExpiresIn = -time.Minute
	expired, err := s.GenerateToken(user)
	require.NoError(t, err)
	_, err = s.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": user.ID.String()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	token, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-query", token)

	r.Header.Set("Authorization", "Bearer from-header")
	token, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-header", token)

	r.Header.Set("Authorization", "Basic abc")
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = TokenFromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, ErrMissingToken)
}
