package gateways

import (
	"context"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// DefaultStapleDelay is the wait before the single staple retry
const DefaultStapleDelay = 20 * time.Second

// Stapler embeds the notarization ticket into an accepted bundle.
// A ticket can take a while to propagate after acceptance, so one failure is
// retried after a delay; a second failure is reported as deferred, never fatal.
type Stapler struct {
	runner gateways.CommandRunner
	clock  interfaces.Clock
	delay  time.Duration
	logger interfaces.Logger
}

// NewStapler creates a stapler; a zero delay uses DefaultStapleDelay
func NewStapler(runner gateways.CommandRunner, clock interfaces.Clock, delay time.Duration, logger interfaces.Logger) *Stapler {
	if clock == nil {
		clock = interfaces.RealClock{}
	}
	if delay <= 0 {
		delay = DefaultStapleDelay
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Stapler{runner: runner, clock: clock, delay: delay, logger: logger}
}

// Staple attaches and validates the ticket, marking artifact.Stapled on success
func (s *Stapler) Staple(ctx context.Context, artifact *entities.BuildArtifact) entities.StapleResult {
	result := entities.StapleResult{}

	for attempt := 1; attempt <= 2; attempt++ {
		result.Attempts = attempt
		output, err := s.run(ctx, "staple", artifact.BundlePath)
		result.Output = output
		if err == nil {
			break
		}

		s.logger.Warn("staple attempt failed",
			interfaces.F("attempt", attempt),
			interfaces.F("ticket_missing", strings.Contains(output, "Could not find ticket")),
			interfaces.F("output", TailLines(output, 5)))
		if attempt == 2 || ctx.Err() != nil {
			result.Deferred = true
			return result
		}
		if err := s.clock.Sleep(ctx, s.delay); err != nil {
			result.Deferred = true
			return result
		}
	}

	if output, err := s.run(ctx, "validate", artifact.BundlePath); err != nil {
		s.logger.Warn("stapled ticket did not validate", interfaces.F("output", TailLines(output, 5)))
		result.Output = output
		result.Deferred = true
		return result
	}

	artifact.Stapled = true
	result.Success = true
	return result
}

func (s *Stapler) run(ctx context.Context, action, bundle string) (string, error) {
	res, err := s.runner.Run(ctx, gateways.CommandSpec{
		Name:    "xcrun",
		Args:    []string{"stapler", action, bundle},
		Timeout: 5 * time.Minute,
	})
	return res.Combined(), err
}
