// Package pgsource streams changes from a PostgreSQL logical replication slot
// using the built-in pgoutput plugin and hands them to a capture.Handler.
package pgsource

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/maxpert/waljson/cfg"
)

const (
	DefaultStandbyTimeout = 10 * time.Second
	DefaultPublication    = "waljson"
)

// Config configures the replication connection
type Config struct {
	ConnectionString  string
	SlotName          string
	PublicationName   string
	CreateSlot        bool
	TemporarySlot     bool
	CreatePublication bool
	// StandbyMessageTimeout is the longest time between two status updates
	StandbyMessageTimeout time.Duration
}

// ConfigFromSource maps the [source] section to a Config.
func ConfigFromSource(c cfg.SourceConfiguration) Config {
	return Config{
		ConnectionString:      c.DSN,
		SlotName:              c.Slot,
		PublicationName:       c.Publication,
		CreateSlot:            c.CreateSlot,
		TemporarySlot:         c.TemporarySlot,
		CreatePublication:     c.CreatePublication,
		StandbyMessageTimeout: time.Duration(c.StandbyTimeoutSeconds) * time.Second,
	}
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("connection string is required")
	}
	if c.SlotName == "" {
		return fmt.Errorf("slot name is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PublicationName == "" {
		c.PublicationName = DefaultPublication
	}
	if c.StandbyMessageTimeout <= 0 {
		c.StandbyMessageTimeout = DefaultStandbyTimeout
	}
}

// replicationDSN adds replication=database unless the connection string
// already selects a replication mode.
func replicationDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse connection string: %w", err)
		}
		q := u.Query()
		if q.Get("replication") == "" {
			q.Set("replication", "database")
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}

	if strings.Contains(dsn, "replication=") {
		return dsn, nil
	}
	return strings.TrimSpace(dsn + " replication=database"), nil
}
