package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/auth"
	"github.com/ychat20/ychat-server/internal/config"
	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/service/rooms"
	"github.com/ychat20/ychat-server/internal/store"
	"github.com/ychat20/ychat-server/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	store store.Store
	auth  *auth.Service
	hub   *core.Hub
	rooms *rooms.Service
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.JWTSecret = "test-secret"
	cfg.AuthTimeout = 2 * time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}, auth.NewPasswordHasher(4))

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(st, authService, &disabledLogger)
	roomService := rooms.New(st, hub.Registry(), &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, authService, roomService, st, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		cancel()
		ts.Close()
		_ = st.Close()
	})

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, rooms: roomService}
}

// register creates a user and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (int64, string) {
	t.Helper()

	token, err := e.auth.Register(context.Background(), username, "", "Password123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	u, err := e.store.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("failed to load %s: %v", username, err)
	}
	return u.ID, token
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}
