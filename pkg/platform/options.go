package platform

import (
	"time"

	"github.com/txn2/dbsession/pkg/config"
	"github.com/txn2/dbsession/pkg/dbsession"
)

// Options configures the platform.
type Options struct {
	// Config is the service configuration.
	Config *config.Config

	// ClientFactory (optional, built from Config.Database if not provided).
	ClientFactory dbsession.ClientFactory

	// Clock (optional, defaults to time.Now).
	Clock func() time.Time
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithClientFactory sets the database client factory.
func WithClientFactory(f dbsession.ClientFactory) Option {
	return func(o *Options) {
		o.ClientFactory = f
	}
}

// WithClock sets the clock used to judge session idleness.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}
