// Package pulse parses realtime service flags and composes the entrypoint.
package pulse

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/cldcde/pulse/internal/platform/cmd"
	"github.com/cldcde/pulse/internal/services/activity/app"
)

// Config holds pulse command configuration.
type Config struct {
	HTTPAddr            string        `env:"CLDCDE_PULSE_HTTP_ADDR"             envDefault:":8090"`
	ActivityDBPath      string        `env:"CLDCDE_PULSE_ACTIVITY_DB_PATH"      envDefault:"activity.db"`
	NotificationsDBPath string        `env:"CLDCDE_PULSE_NOTIFICATIONS_DB_PATH" envDefault:"notifications.db"`
	Retention           time.Duration `env:"CLDCDE_PULSE_RETENTION"             envDefault:"168h"`
	SweepInterval       time.Duration `env:"CLDCDE_PULSE_SWEEP_INTERVAL"        envDefault:"1h"`
	PresenceTimeout     time.Duration `env:"CLDCDE_PULSE_PRESENCE_TIMEOUT"      envDefault:"45s"`
	EvictionInterval    time.Duration `env:"CLDCDE_PULSE_EVICTION_INTERVAL"     envDefault:"15s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "pulse HTTP listen address")
	fs.StringVar(&cfg.ActivityDBPath, "activity-db", cfg.ActivityDBPath, "activity event store SQLite path")
	fs.StringVar(&cfg.NotificationsDBPath, "notifications-db", cfg.NotificationsDBPath, "notification store SQLite path")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "how long activity events are kept")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "how often expired events are swept")
	fs.DurationVar(&cfg.PresenceTimeout, "presence-timeout", cfg.PresenceTimeout, "heartbeat age before a presence entry lapses")
	fs.DurationVar(&cfg.EvictionInterval, "eviction-interval", cfg.EvictionInterval, "how often lapsed presence entries are evicted")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the pulse app and starts serving realtime traffic.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePulse, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:            cfg.HTTPAddr,
			ActivityDBPath:      cfg.ActivityDBPath,
			NotificationsDBPath: cfg.NotificationsDBPath,
			Retention:           cfg.Retention,
			SweepInterval:       cfg.SweepInterval,
			PresenceTimeout:     cfg.PresenceTimeout,
			EvictionInterval:    cfg.EvictionInterval,
		}); err != nil {
			return fmt.Errorf("serve pulse: %w", err)
		}
		return nil
	})
}
