package docker

import (
	"context"
	"fmt"

	"github.com/ypeckstadt/dhom/internal/executor"
	"github.com/ypeckstadt/dhom/internal/models"
)

// RunningSet is the ordered list of container IDs that were running before
// a stop. Restart acts on exactly this set.
type RunningSet []string

// StopAll captures the running containers and stops each in order.
//
// A listing failure aborts with nothing stopped. A failed stop is recorded
// in the outcomes and the loop continues; the full captured set is still
// returned so that StartAll covers it. A transport failure ends the loop and
// is returned together with the set.
func (c *Client) StopAll(ctx context.Context) (RunningSet, models.Outcomes, error) {
	ids, err := c.ListRunning(ctx)
	if err != nil {
		return nil, nil, err
	}
	set := RunningSet(ids)

	var outcomes models.Outcomes
	for _, id := range set {
		err := c.Stop(ctx, id)
		outcomes = append(outcomes, models.Outcome{Kind: models.KindStop, Name: id, Err: err})
		if err != nil {
			c.logger.Warn().Err(err).Str("container", id).Msg("Failed to stop container")
			if executor.IsTransport(err) {
				return set, outcomes, fmt.Errorf("stopping containers: %w", err)
			}
			continue
		}
		c.logger.Debug().Str("container", id).Msg("Stopped container")
	}
	return set, outcomes, nil
}

// StartAll starts every container in set, in order. Failures are recorded
// individually and never stop the remaining starts.
func (c *Client) StartAll(ctx context.Context, set RunningSet) models.Outcomes {
	outcomes := make(models.Outcomes, 0, len(set))
	for _, id := range set {
		err := c.Start(ctx, id)
		outcomes = append(outcomes, models.Outcome{Kind: models.KindStart, Name: id, Err: err})
		if err != nil {
			c.logger.Warn().Err(err).Str("container", id).Msg("Failed to start container")
			continue
		}
		c.logger.Debug().Str("container", id).Msg("Started container")
	}
	return outcomes
}
