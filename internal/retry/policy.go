// Package retry decides how a failed session operation proceeds: retry after
// a backoff delay, reauthenticate, or give up.
package retry

import (
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrorKind is the retry-relevant classification of a failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindAuthExpired
	KindSchemaNotFound
	KindMalformed
	KindFlowControl
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindSchemaNotFound:
		return "schema_not_found"
	case KindMalformed:
		return "malformed"
	case KindFlowControl:
		return "flow_control"
	default:
		return "unknown"
	}
}

type Action int

const (
	Fail Action = iota
	Retry
	Reauthenticate
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Reauthenticate:
		return "reauthenticate"
	default:
		return "fail"
	}
}

// Decision is the outcome of Policy.Decide. Delay is set only for Retry.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Config holds the backoff parameters. The multiplier is fixed at 2.
type Config struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	MaxReauthAttempts int
	JitterPercent     uint64
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		MaxAttempts:       5,
		MaxReauthAttempts: 1,
		JitterPercent:     10,
	}
}

// Policy is stateless and safe for concurrent use. attempt counts prior
// failures of the same kind for one operation, starting at 0.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.MaxReauthAttempts < 0 {
		cfg.MaxReauthAttempts = 0
	}
	if cfg.JitterPercent > 100 {
		cfg.JitterPercent = 100
	}
	return &Policy{cfg: cfg}
}

func (p *Policy) Config() Config { return p.cfg }

func (p *Policy) Decide(kind ErrorKind, attempt int) Decision {
	if attempt < 0 {
		attempt = 0
	}

	switch kind {
	case KindTransient:
		if attempt >= p.cfg.MaxAttempts {
			return Decision{Action: Fail}
		}
		return Decision{Action: Retry, Delay: p.Backoff(attempt)}
	case KindAuthExpired:
		if attempt >= p.cfg.MaxReauthAttempts {
			return Decision{Action: Fail}
		}
		return Decision{Action: Reauthenticate}
	default:
		return Decision{Action: Fail}
	}
}

// Backoff returns the delay before retry number attempt+1.
func (p *Policy) Backoff(attempt int) time.Duration {
	// past the cap every step yields MaxDelay; stop early so the shift cannot overflow
	steps := 0
	for steps < attempt && p.cfg.BaseDelay<<steps < p.cfg.MaxDelay {
		steps++
	}

	b := goretry.NewExponential(p.cfg.BaseDelay)
	b = goretry.WithCappedDuration(p.cfg.MaxDelay, b)
	if p.cfg.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.cfg.JitterPercent, b)
	}

	var d time.Duration
	for i := 0; i <= steps; i++ {
		d, _ = b.Next()
	}
	return d
}
