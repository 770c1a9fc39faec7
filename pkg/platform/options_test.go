package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/txn2/dbsession/pkg/config"
	"github.com/txn2/dbsession/pkg/dbsession"
)

func TestOptions(t *testing.T) {
	cfg := &config.Config{}
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	called := false
	factory := func(context.Context) (dbsession.Client, error) {
		called = true
		return nil, nil
	}

	o := &Options{}
	for _, opt := range []Option{
		WithConfig(cfg),
		WithClientFactory(factory),
		WithClock(func() time.Time { return fixed }),
	} {
		opt(o)
	}

	assert.Same(t, cfg, o.Config)
	assert.Equal(t, fixed, o.Clock())
	_, _ = o.ClientFactory(context.Background())
	assert.True(t, called)
}
