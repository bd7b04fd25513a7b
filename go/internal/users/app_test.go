package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (r *recordingBroadcaster) Publish(_ context.Context, env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recordingBroadcaster) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

func newTestApp(t *testing.T) (*App, *MemoryRepository, *recordingBroadcaster, *auth.JWTVerifier) {
	t.Helper()
	repo := NewMemoryRepository()
	b := &recordingBroadcaster{}
	v, err := auth.NewJWTVerifier(auth.Config{Secret: []byte("secret"), TTL: time.Hour})
	require.NoError(t, err)

	app := NewApp(repo, repo, v, b)
	app.cost = bcrypt.MinCost
	return app, repo, b, v
}

func ptr(f float64) *float64 { return &f }

func TestRegister(t *testing.T) {
	app, repo, _, _ := newTestApp(t)
	ctx := context.Background()

	user, err := app.Register(ctx, CreateUserRequest{Name: "Alice", Email: "alice@example.com", Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.LoggedIn)

	stored, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw", stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("pw")))

	_, err = app.Register(ctx, CreateUserRequest{Username: "alice", Password: "other"})
	require.ErrorIs(t, err, ErrUserExists)

	_, err = app.Register(ctx, CreateUserRequest{Username: "", Password: "pw"})
	require.ErrorIs(t, err, ErrInvalidUser)

	_, err = app.Register(ctx, CreateUserRequest{Username: "bob", Email: "nope", Password: "pw"})
	require.ErrorIs(t, err, ErrInvalidUser)
}

func TestAuthenticate(t *testing.T) {
	app, repo, b, v := newTestApp(t)
	ctx := context.Background()

	_, err := app.Register(ctx, CreateUserRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = app.Authenticate(ctx, AuthenticateRequest{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = app.Authenticate(ctx, AuthenticateRequest{Username: "nobody", Password: "pw"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, b.names())

	resp, err := app.Authenticate(ctx, AuthenticateRequest{
		Username:  "alice",
		Password:  "pw",
		Latitude:  ptr(38.7),
		Longitude: ptr(-9.1),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)

	identity, err := v.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)

	stored, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.LoggedIn)
	assert.Equal(t, 38.7, stored.Latitude)
	assert.Equal(t, -9.1, stored.Longitude)

	require.Equal(t, []events.Name{events.UserJoined}, b.names())
	payload, ok := b.events[0].Data.(events.UserJoinedPayload)
	require.True(t, ok)
	assert.Equal(t, events.UserJoinedPayload{Username: "alice", Lat: 38.7, Lng: -9.1}, payload)
}

func TestAuthenticateDefaultsLocation(t *testing.T) {
	app, repo, _, _ := newTestApp(t)
	ctx := context.Background()

	_, err := app.Register(ctx, CreateUserRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateLocation(ctx, "alice", 1, 1))

	_, err = app.Authenticate(ctx, AuthenticateRequest{Username: "alice", Password: "pw", Latitude: ptr(5)})
	require.NoError(t, err)

	stored, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stored.Latitude)
	assert.Zero(t, stored.Longitude)
}

func TestLogoutAndListUsers(t *testing.T) {
	app, _, b, _ := newTestApp(t)
	ctx := context.Background()

	for _, name := range []string{"bob", "alice"} {
		_, err := app.Register(ctx, CreateUserRequest{Username: name, Password: "pw"})
		require.NoError(t, err)
		_, err = app.Authenticate(ctx, AuthenticateRequest{Username: name, Password: "pw"})
		require.NoError(t, err)
	}

	require.NoError(t, app.Logout(ctx, "bob"))
	require.ErrorIs(t, app.Logout(ctx, "carol"), ErrUserNotFound)

	assert.Equal(t, []events.Name{events.UserJoined, events.UserJoined, events.UserLeft}, b.names())

	all, err := app.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Username)
	assert.True(t, all[0].LoggedIn)
	assert.Equal(t, "bob", all[1].Username)
	assert.False(t, all[1].LoggedIn)
}
