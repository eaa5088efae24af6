package boot

import "microkern/kernel/mem"

// GetSystemInfo reports live PFA total/free byte counts, the SMP CPU count,
// and whether Init has completed. The scheduler's task count is not part of
// SystemInfo; TaskCount reports it separately.
func (k *Kernel) GetSystemInfo() SystemInfo {
	if k.checkReady() != nil {
		return SystemInfo{}
	}
	stats := k.frames.Stats()
	return SystemInfo{
		MemTotalBytes: stats.TotalFrames * uint64(mem.PageSize),
		MemFreeBytes:  stats.FreeFrames * uint64(mem.PageSize),
		CPUCount:      k.cpus.CPUCount(),
		Initialized:   true,
	}
}

// GetUptime returns monotonically non-decreasing milliseconds derived from
// the scheduler's own tick counter, which the SMP ticker advances.
func (k *Kernel) GetUptime() uint64 {
	if k.checkReady() != nil {
		return 0
	}
	return k.tasks.UptimeMillis(tickIntervalMillis(k.cfg.TickHz))
}

// TaskCount returns the scheduler's current live task count, a diagnostic
// sibling of GetSystemInfo not named among its four fields.
func (k *Kernel) TaskCount() int {
	if k.checkReady() != nil {
		return 0
	}
	return k.tasks.Count()
}
