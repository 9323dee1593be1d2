package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/auth/repository"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/config"
	obscontext "github.com/smallbiznis/phage/internal/observability/context"
	"github.com/smallbiznis/phage/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (authdomain.Service, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}))

	repo, sessionRepo := repository.New(conn)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		Log:         zap.NewNop(),
		Config:      config.Config{SignupCredits: 5},
		Repo:        repo,
		SessionRepo: sessionRepo,
		GenID:       node,
		Clock:       fake,
	})
	return svc, fake
}

func TestSignUpGrantsDefaultCredits(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.SignUp(context.Background(), authdomain.SignUpRequest{
		Email:    " Alice@Example.com ",
		Password: "correct-password",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.User.Email)
	assert.Equal(t, "alice", result.User.Name)
	assert.Equal(t, int64(5), result.User.Credits)
	assert.NotEmpty(t, result.RawToken)

	session, err := svc.Authenticate(context.Background(), result.RawToken)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, session.UserID)
}

func TestSignUpRejectsDuplicateAndWeakPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, authdomain.SignUpRequest{Email: "bob@example.com", Password: "short"})
	assert.ErrorIs(t, err, authdomain.ErrWeakPassword)

	_, err = svc.SignUp(ctx, authdomain.SignUpRequest{Email: "not-an-email", Password: "long-enough"})
	assert.ErrorIs(t, err, authdomain.ErrInvalidEmail)

	_, err = svc.SignUp(ctx, authdomain.SignUpRequest{Email: "bob@example.com", Password: "long-enough"})
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, authdomain.SignUpRequest{Email: "BOB@example.com", Password: "long-enough"})
	assert.ErrorIs(t, err, authdomain.ErrUserExists)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, authdomain.SignUpRequest{Email: "carol@example.com", Password: "correct-password"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, authdomain.LoginRequest{Email: "carol@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, authdomain.ErrInvalidCredentials)

	_, err = svc.Login(ctx, authdomain.LoginRequest{Email: "nobody@example.com", Password: "whatever1"})
	assert.ErrorIs(t, err, authdomain.ErrInvalidCredentials)

	result, err := svc.Login(ctx, authdomain.LoginRequest{Email: "carol@example.com", Password: "correct-password"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RawToken)
}

func TestSessionExpiryAndLogout(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	first, err := svc.SignUp(ctx, authdomain.SignUpRequest{Email: "dave@example.com", Password: "correct-password"})
	require.NoError(t, err)
	second, err := svc.Login(ctx, authdomain.LoginRequest{Email: "dave@example.com", Password: "correct-password"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, second.RawToken))
	_, err = svc.Authenticate(ctx, second.RawToken)
	assert.ErrorIs(t, err, authdomain.ErrSessionRevoked)

	fake.Advance(8 * 24 * time.Hour)
	_, err = svc.Authenticate(ctx, first.RawToken)
	assert.ErrorIs(t, err, authdomain.ErrSessionExpired)

	_, err = svc.Authenticate(ctx, "unknown")
	assert.ErrorIs(t, err, authdomain.ErrInvalidSession)
}

func TestCurrentUserFromContext(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.SignUp(context.Background(), authdomain.SignUpRequest{Email: "erin@example.com", Password: "correct-password"})
	require.NoError(t, err)

	ctx := obscontext.WithUserID(context.Background(), result.User.ID.String())
	user, err := svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, user.ID)

	_, err = svc.CurrentUser(context.Background())
	assert.ErrorIs(t, err, authdomain.ErrInvalidSession)
}
