// Package diagnostics collects host resource information for the doctor
// command and its worker-sizing hints.
package diagnostics

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo holds a point-in-time snapshot of host resources. Fields that
// could not be collected stay zero; Valid flags mark what is trustworthy.
type SystemInfo struct {
	CPUModel   string
	CPUCores   int
	CPUPercent float64
	CPUValid   bool

	MemTotalMB float64
	MemUsedMB  float64
	MemPercent float64
	MemValid   bool

	DiskTotalGB float64
	DiskFreeGB  float64
	DiskPercent float64
	DiskValid   bool

	LoadAvg1  float64
	LoadValid bool
}

// Collect gathers a best-effort snapshot. Collection failures never abort
// the caller; they just leave the corresponding section invalid.
func Collect(statePath string) SystemInfo {
	info := SystemInfo{CPUCores: runtime.NumCPU()}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		info.CPUModel = infos[0].ModelName
	}
	if percents, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
		info.CPUValid = true
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotalMB = float64(vm.Total) / 1024 / 1024
		info.MemUsedMB = float64(vm.Used) / 1024 / 1024
		info.MemPercent = vm.UsedPercent
		info.MemValid = true
	}

	if statePath == "" {
		statePath = "."
	}
	if usage, err := disk.Usage(statePath); err == nil {
		info.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
		info.DiskFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
		info.DiskPercent = usage.UsedPercent
		info.DiskValid = true
	}

	if avg, err := load.Avg(); err == nil {
		info.LoadAvg1 = avg.Load1
		info.LoadValid = true
	}

	return info
}

// SuggestWorkers recommends a worker pool size for this host. Jobs are
// network-bound model calls, so the pool can exceed the core count, but
// memory pressure caps it.
func (i SystemInfo) SuggestWorkers() int {
	suggested := i.CPUCores * 2
	if suggested < 2 {
		suggested = 2
	}
	if i.MemValid && i.MemPercent > 85 {
		suggested = i.CPUCores
		if suggested < 1 {
			suggested = 1
		}
	}
	if suggested > 32 {
		suggested = 32
	}
	return suggested
}
