// workers/memory_prune_worker.go
package workers

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"cyber-range-orchestrator/services"
)

// Memories older than this with relevance below the floor are removed.
const (
	pruneMaxAge         = 30 * 24 * time.Hour
	pruneRelevanceFloor = 0.3
)

// StartMemoryPruneWorker schedules periodic pruning of stale low-value
// memories. Returns the scheduler so the caller can shut it down.
func StartMemoryPruneWorker(memory *services.MemoryService, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			deleted, err := memory.PruneOldMemories(pruneMaxAge, pruneRelevanceFloor)
			if err != nil {
				log.Error().Err(err).Msg("memory prune run failed")
				return
			}
			log.Debug().Int64("deleted", deleted).Msg("memory prune run complete")
		}),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	log.Info().Dur("interval", interval).Msg("memory prune worker started")
	return scheduler, nil
}
