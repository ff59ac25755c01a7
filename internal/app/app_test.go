package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/config"
	"github.com/davicafu/usersync/internal/notification/domain"
	"github.com/davicafu/usersync/internal/notification/infra/outbound/email"
	userApp "github.com/davicafu/usersync/internal/user/application"
)

type pipeline struct {
	cfg      *config.Config
	api      *UserAPI
	notifier *Notifier
	broker   *Broker
	sender   *email.LogSender
}

func newPipeline(t *testing.T, ctx context.Context) *pipeline {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BROKER_DRIVER", "memory")
	t.Setenv("CONSUMER_WORKERS", "2")
	t.Setenv("CONSUMER_BACKOFF", "10ms")
	t.Setenv("OUTBOX_PERIOD", "20ms")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return buildPipeline(t, ctx, cfg)
}

func buildPipeline(t *testing.T, ctx context.Context, cfg *config.Config) *pipeline {
	t.Helper()
	log := zap.NewNop()

	store, err := OpenStore(ctx, cfg, log)
	require.NoError(t, err)
	cache, rdb := NewCache(ctx, cfg, log)
	require.Nil(t, rdb)
	broker, err := NewBroker(cfg, log)
	require.NoError(t, err)

	api := NewUserAPI(cfg, store, cache, broker, log)
	notifier, err := NewNotifier(ctx, cfg, broker, log)
	require.NoError(t, err)

	sender, ok := notifier.Sender.(*email.LogSender)
	require.True(t, ok)

	t.Cleanup(func() { _ = broker.Close() })
	return &pipeline{cfg: cfg, api: api, notifier: notifier, broker: broker, sender: sender}
}

func (p *pipeline) consume(t *testing.T, ctx context.Context) {
	done := make(chan error, 1)
	go func() { done <- p.notifier.Consume(ctx) }()
	t.Cleanup(func() {
		_ = p.broker.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})
}

func (p *pipeline) waitSent(t *testing.T, n int) []domain.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(p.sender.Sent()) >= n }, 3*time.Second, 10*time.Millisecond)
	return p.sender.Sent()
}

func TestPipeline_LifecycleProducesNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPipeline(t, ctx)
	p.consume(t, ctx)

	_, err := p.api.Service.CreateUser(ctx, &userApp.CreateUserRequest{Name: "Ana", Email: "a@x.com"})
	require.NoError(t, err)
	users, err := p.api.Service.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	id := users[0].ID

	_, err = p.api.Service.UpdateUser(ctx, id, &userApp.UpdateUserRequest{Email: "b@x.com"})
	require.NoError(t, err)
	_, err = p.api.Service.DeleteUser(ctx, id)
	require.NoError(t, err)

	sent := p.waitSent(t, 3)
	require.Len(t, sent, 3)

	// a@x.com y b@x.com son keys distintas: solo el orden por key está garantizado.
	var forB []string
	for _, m := range sent {
		switch m.To {
		case "a@x.com":
			assert.Equal(t, "Account created", m.Subject)
		case "b@x.com":
			forB = append(forB, m.Subject)
		default:
			t.Errorf("unexpected recipient %q", m.To)
		}
	}
	assert.Equal(t, []string{"Account updated", "Account deleted"}, forB)

	attempts, err := p.notifier.Delivery.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.True(t, a.Success)
	}
}

func TestPipeline_PerKeyOrderUnderLoad(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPipeline(t, ctx)
	p.consume(t, ctx)

	name := "Ana"
	_, err := p.api.Service.CreateUser(ctx, &userApp.CreateUserRequest{Name: name, Email: "same@x.com"})
	require.NoError(t, err)
	users, err := p.api.Service.ListUsers(ctx)
	require.NoError(t, err)
	id := users[0].ID
	for i := 0; i < 10; i++ {
		_, err := p.api.Service.UpdateUser(ctx, id, &userApp.UpdateUserRequest{Name: &name, Email: "same@x.com"})
		require.NoError(t, err)
	}
	_, err = p.api.Service.DeleteUser(ctx, id)
	require.NoError(t, err)

	sent := p.waitSent(t, 12)
	assert.Equal(t, "Account created", sent[0].Subject)
	for _, m := range sent[1:11] {
		assert.Equal(t, "Account updated", m.Subject)
	}
	assert.Equal(t, "Account deleted", sent[11].Subject)
}

func TestPipeline_OutboxRelaysEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t.Setenv("OUTBOX_ENABLED", "true")
	p := newPipeline(t, ctx)
	require.True(t, p.cfg.OutboxEnabled)
	p.consume(t, ctx)

	apiDone := make(chan error, 1)
	go func() { apiDone <- p.api.Run(ctx, "127.0.0.1:0") }()

	_, err := p.api.Service.CreateUser(ctx, &userApp.CreateUserRequest{Name: "Ana", Email: "outbox@x.com"})
	require.NoError(t, err)

	sent := p.waitSent(t, 1)
	assert.Equal(t, "outbox@x.com", sent[0].To)
	assert.Equal(t, "Account created", sent[0].Subject)

	cancel()
	select {
	case err := <-apiDone:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("user api did not stop")
	}
}

func TestPipeline_ThroughGateway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPipeline(t, ctx)
	p.consume(t, ctx)

	users := httptest.NewServer(p.api.Router)
	defer users.Close()
	notifications := httptest.NewServer(p.notifier.Router)
	defer notifications.Close()

	p.cfg.UserServiceURL = users.URL
	p.cfg.NotificationServiceURL = notifications.URL
	gw, err := NewGateway(p.cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(`{"name":"Gate","email":"gate@x.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewBufferString(`{"email":"ops@x.com","subject":"Hi","text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	gw.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	sent := p.waitSent(t, 2)
	recipients := []string{sent[0].To, sent[1].To}
	assert.ElementsMatch(t, []string{"gate@x.com", "ops@x.com"}, recipients)
}

func TestNewGateway_RedisBackendRequiresClient(t *testing.T) {
	cfg := &config.Config{RateLimitBackend: "redis", UserServiceURL: "http://u", NotificationServiceURL: "http://n"}
	_, err := NewGateway(cfg, nil, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), &config.Config{StoreDriver: "cassandra"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewBroker(&config.Config{BrokerDriver: "rabbit"}, zap.NewNop())
	assert.Error(t, err)
}
