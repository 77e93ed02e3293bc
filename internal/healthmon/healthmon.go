// Package healthmon periodically samples the bridge process's own CPU
// and memory usage and logs it under the SERVER observability category.
package healthmon

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ottdbridge/bridge/internal/logging"
)

// Interval between resource samples.
const Interval = 30 * time.Second

// Run samples process resource usage every Interval until ctx is
// cancelled. Intended to be launched as a background goroutine from main.
func Run(ctx context.Context) {
	log := logging.For(logging.CategoryServer)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("healthmon: could not attach to self process")
		return
	}

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpuPct, err := proc.PercentWithContext(ctx, 0)
			if err != nil {
				log.Debug().Err(err).Msg("healthmon: cpu sample failed")
				continue
			}
			memInfo, err := proc.MemoryInfoWithContext(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("healthmon: memory sample failed")
				continue
			}
			log.Debug().
				Float64("cpu_percent", cpuPct).
				Uint64("rss_bytes", memInfo.RSS).
				Msg("resource sample")
		}
	}
}
