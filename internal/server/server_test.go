package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/dbsession/pkg/config"
	"github.com/txn2/dbsession/pkg/dbsession"
	"github.com/txn2/dbsession/pkg/platform"
)

func newTestPlatform(t *testing.T) *platform.Platform {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.DSN = "postgres://crm@db.test/crm"
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.Shutdown.PreShutdownDelay = 10 * time.Millisecond
	cfg.Server.Shutdown.GracePeriod = 2 * time.Second

	p, err := platform.New(
		platform.WithConfig(cfg),
		platform.WithClientFactory(func(context.Context) (dbsession.Client, error) {
			return nil, errors.New("database not reachable in tests")
		}),
	)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	p := newTestPlatform(t)
	srv := New(p)

	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, readHeaderTimeout, srv.ReadHeaderTimeout)
	assert.NotNil(t, srv.Handler)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version)
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	p := newTestPlatform(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, p, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/readyz") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, "draining", p.Checker().State())
	_, err = p.Manager().StartTransaction(context.Background(), "late")
	assert.ErrorIs(t, err, dbsession.ErrDisposed)
}

func TestRun_ListenerClosed(t *testing.T) {
	p := newTestPlatform(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = Run(context.Background(), p, ln)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serving http")
}
