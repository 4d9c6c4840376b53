//go:build linux

package sandboxrt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ResourceLimitStatus tracks which process-wide limits were successfully
// applied, mirroring the original sandbox's ResourceLimitStatus dataclass.
type ResourceLimitStatus struct {
	MemoryLimitSet bool
	CPULimitSet    bool
	FDLimitSet     bool
}

func (s ResourceLimitStatus) AnyLimitsSet() bool {
	return s.MemoryLimitSet || s.CPULimitSet || s.FDLimitSet
}

func (s ResourceLimitStatus) AllLimitsSet() bool {
	return s.MemoryLimitSet && s.CPULimitSet && s.FDLimitSet
}

// SetResourceLimits applies the process-wide safety net described in
// SPEC_FULL.md §5: memory (RLIMIT_AS), cumulative CPU time (RLIMIT_CPU,
// generous — per-call enforcement is the context-timeout race in
// Execute), and file descriptors (RLIMIT_NOFILE). Called once at
// cmd/sandbox startup.
func SetResourceLimits(maxMemoryBytes uint64) ResourceLimitStatus {
	var status ResourceLimitStatus

	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: maxMemoryBytes, Max: maxMemoryBytes}); err == nil {
		status.MemoryLimitSet = true
	}

	const cumulativeCPUSeconds = 3600 // 1 hour process-lifetime safety net, not per-call
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cumulativeCPUSeconds, Max: cumulativeCPUSeconds}); err == nil {
		status.CPULimitSet = true
	}

	const maxFDs = 256
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: maxFDs, Max: maxFDs}); err == nil {
		status.FDLimitSet = true
	}

	return status
}

// ValidateResourceLimits reports whether status satisfies requireAll; the
// error explains which limits are missing.
func ValidateResourceLimits(status ResourceLimitStatus, requireAll bool) error {
	if !status.AnyLimitsSet() {
		return fmt.Errorf("no resource limits could be set - sandbox is not secure")
	}
	if requireAll && !status.AllLimitsSet() {
		var missing []string
		if !status.MemoryLimitSet {
			missing = append(missing, "memory")
		}
		if !status.CPULimitSet {
			missing = append(missing, "CPU")
		}
		if !status.FDLimitSet {
			missing = append(missing, "file descriptors")
		}
		return fmt.Errorf("missing required resource limits: %v (set REQUIRE_RESOURCE_LIMITS=false to disable this check)", missing)
	}
	return nil
}
