package statuscheck

import (
	"context"
	"errors"
	"time"
)

// Pinger models the minimal capability we need from Redis and S3.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the converter and its optional sinks.
type Checker struct {
	redis  Pinger
	s3     Pinger
	codecs map[string]func() bool
}

// Options configures the Checker. Nil pingers mark the subsystem disabled.
type Options struct {
	Redis Pinger
	S3    Pinger
	// Codecs maps a native library name to its availability probe.
	Codecs map[string]func() bool
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK       bool   `json:"ok"`
	Disabled bool   `json:"disabled,omitempty"`
	Message  string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Healthy bool              `json:"healthy"`
	Redis   Status            `json:"redis"`
	S3      Status            `json:"s3"`
	Codecs  map[string]Status `json:"codecs"`
}

func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, s3: opts.S3, codecs: opts.Codecs}
}

// Summary returns the current status snapshot. The service is healthy when
// every native codec is present and every enabled sink answers.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{
		Redis:  c.ping(ctx, c.redis, 2*time.Second),
		S3:     c.ping(ctx, c.s3, 5*time.Second),
		Codecs: make(map[string]Status, len(c.codecs)),
	}
	s.Healthy = (s.Redis.OK || s.Redis.Disabled) && (s.S3.OK || s.S3.Disabled)
	for name, available := range c.codecs {
		if available() {
			s.Codecs[name] = Status{OK: true, Message: "Available"}
			continue
		}
		s.Codecs[name] = Status{OK: false, Message: "Library not linked"}
		s.Healthy = false
	}
	return s
}

// Health adapts Summary to the orchestrator's health hook.
func (c *Checker) Health(ctx context.Context) (any, bool) {
	s := c.Summary(ctx)
	return s, s.Healthy
}

func (c *Checker) ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{Disabled: true, Message: "Not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
