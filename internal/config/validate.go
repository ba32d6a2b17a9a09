package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/rotisserie/eris"
)

// Validate checks field rules and the requirements of a command mode:
// serve, resolve, history, crawl, migrate or import.
func (c *Config) Validate(mode string) error {
	var problems []string

	sections := []struct {
		name string
		data any
	}{
		{"store", &c.Store},
		{"catalog", &c.Catalog},
		{"history", &c.History},
		{"scheduler", &c.Scheduler},
		{"server", &c.Server},
		{"log", &c.Log},
	}
	for _, sec := range sections {
		v := validate.Struct(sec.data)
		if !v.Validate() {
			problems = append(problems, sec.name+": "+v.Errors.Error())
		}
	}

	needsStore := true
	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "resolve", "history", "migrate", "import":
	case "crawl":
		needsStore = false
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsStore && c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}
	if c.Store.MinConns > c.Store.MaxConns {
		problems = append(problems, fmt.Sprintf("store.min_conns (%d) exceeds store.max_conns (%d)", c.Store.MinConns, c.Store.MaxConns))
	}
	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		problems = append(problems, "notify.webhook_url must be an http(s) URL")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// ThrottleWindow returns the history write throttle window.
func (c HistoryConfig) ThrottleWindow() time.Duration {
	return time.Duration(c.ThrottleSecs) * time.Second
}

// Tick returns the scheduler tick.
func (c SchedulerConfig) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

// CycleTimeout returns the bound on one check.
func (c SchedulerConfig) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSecs) * time.Second
}

// Timeout returns the catalog HTTP timeout.
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheTTL returns how long a crawl is served from cache.
func (c CatalogConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}
