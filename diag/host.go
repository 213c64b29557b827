package diag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrInsufficientDisk is returned by CheckFreeDisk when the output volume is
// too full for a run.
var ErrInsufficientDisk = errors.New("insufficient free disk space")

// HostStats is a snapshot of the machine a run executes on.
type HostStats struct {
	CPUs            int     `yaml:"cpus"`
	MemTotalBytes   uint64  `yaml:"mem_total_bytes"`
	MemAvailable    uint64  `yaml:"mem_available_bytes"`
	MemUsedPercent  float64 `yaml:"mem_used_percent"`
	DiskPath        string  `yaml:"disk_path"`
	DiskFreeBytes   uint64  `yaml:"disk_free_bytes"`
	DiskUsedPercent float64 `yaml:"disk_used_percent"`
}

// CollectHostStats samples memory and the disk holding path. Values that
// cannot be read are left zero.
func CollectHostStats(path string) HostStats {
	st := HostStats{CPUs: runtime.NumCPU(), DiskPath: path}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemTotalBytes = vm.Total
		st.MemAvailable = vm.Available
		st.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.Usage(existingAncestor(path)); err == nil {
		st.DiskFreeBytes = du.Free
		st.DiskUsedPercent = du.UsedPercent
	}
	return st
}

// CheckFreeDisk fails when the volume holding path has less than minFree
// bytes available. A zero minFree disables the check.
func CheckFreeDisk(path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	du, err := disk.Usage(existingAncestor(path))
	if err != nil {
		return fmt.Errorf("failed to read disk usage of %s: %w", path, err)
	}
	if du.Free < minFree {
		return fmt.Errorf("%w: %s has %d bytes free, need %d", ErrInsufficientDisk, path, du.Free, minFree)
	}
	return nil
}

// existingAncestor walks up from path until it finds something that exists,
// so the output directory can be checked before it is created.
func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
