package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/rs/zerolog/log"
)

// SettingLogRetentionDays is the DB setting key naming how long
// ActivityLog/ToolExecutionLog rows live before the janitor purges them.
const SettingLogRetentionDays = "audit.log_retention_days"

const defaultRetentionDays = 30

// Janitor periodically purges ActivityLog and ToolExecutionLog rows older
// than the configured retention window. MCPbox keeps no archive of purged
// rows; this is delete-only.
type Janitor struct {
	store    store.Store
	interval time.Duration
}

func NewJanitor(s store.Store, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{store: s, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once immediately and then on
// every tick.
func (j *Janitor) Run(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("audit retention janitor started")

	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("audit retention janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	days := j.retentionDays(ctx)
	cutoff := time.Now().AddDate(0, 0, -days)

	activityPurged, err := j.store.DeleteActivityLogsBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("audit janitor: failed to purge activity logs")
	}
	execPurged, err := j.store.DeleteToolExecutionLogsBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("audit janitor: failed to purge tool execution logs")
	}

	if activityPurged > 0 || execPurged > 0 {
		log.Info().
			Int("activity_logs_purged", activityPurged).
			Int("execution_logs_purged", execPurged).
			Int("retention_days", days).
			Msg("audit retention sweep complete")
	}
}

func (j *Janitor) retentionDays(ctx context.Context) int {
	setting, err := j.store.GetSetting(ctx, SettingLogRetentionDays)
	if err != nil || setting == nil || setting.Value == "" {
		return defaultRetentionDays
	}
	days, err := strconv.Atoi(setting.Value)
	if err != nil || days <= 0 {
		return defaultRetentionDays
	}
	return days
}
