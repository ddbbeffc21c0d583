package wake

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocmt/relay/internal/relayauth"
	"github.com/ocmt/relay/internal/telemetry"
)

// agent is the subset of *AgentClient's behavior the Coordinator depends
// on, narrowed to an interface so tests can substitute a fake instead of a
// live agent server.
type agent interface {
	Status(ctx context.Context, containerID string, timeout time.Duration) (relayauth.Status, error)
	Wake(ctx context.Context, containerID string, timeout time.Duration) error
}

// Coordinator implements the wake step of the delivery pipeline: after
// live push and callback both fail, check the recipient's status and wake
// it if hibernated or stopped (spec.md §4.5.1).
type Coordinator struct {
	agent         agent
	statusTimeout time.Duration
	wakeTimeout   time.Duration
	logger        *slog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(client *AgentClient, statusTimeout, wakeTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return newCoordinator(client, statusTimeout, wakeTimeout, logger)
}

func newCoordinator(a agent, statusTimeout, wakeTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{agent: a, statusTimeout: statusTimeout, wakeTimeout: wakeTimeout, logger: logger}
}

// MaybeWake queries containerID's status and, if hibernated or stopped,
// triggers a wake. Returns whether a wake was actually triggered. A
// status-check or wake failure never fails the caller's request (spec.md
// §7: "recoverable downstream errors ... never fail the request"); it is
// only reflected in the returned bool and logged.
func (c *Coordinator) MaybeWake(ctx context.Context, containerID string) bool {
	status, err := c.agent.Status(ctx, containerID, c.statusTimeout)
	if err != nil {
		c.logger.Warn("checking container status before wake", "error", err, "container_id", containerID)
		return false
	}

	if status != relayauth.StatusHibernated && status != relayauth.StatusStopped {
		return false
	}

	if err := c.agent.Wake(ctx, containerID, c.wakeTimeout); err != nil {
		c.logger.Warn("triggering container wake", "error", err, "container_id", containerID)
		return false
	}

	telemetry.WakeTriggeredTotal.Inc()
	return true
}
