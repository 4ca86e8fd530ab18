package runner

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

type SysInfo struct {
	Arch     string
	Hostname string
	Platform string
	CPUCount int
	CPUFreq  float64
	RAM      float64
}

// HostStat collects what is known about the host; missing facts stay zero.
func HostStat() SysInfo {
	info := SysInfo{Arch: runtime.GOARCH}
	if hostStat, err := host.Info(); err == nil {
		info.Hostname = hostStat.Hostname
		info.Platform = hostStat.Platform
	}
	if cpuStat, err := cpu.Info(); err == nil && len(cpuStat) > 0 {
		totalFreq := 0.0
		for _, cpu := range cpuStat {
			totalFreq += cpu.Mhz
		}
		info.CPUCount = len(cpuStat)
		info.CPUFreq = totalFreq / float64(len(cpuStat)) * 1000
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.RAM = float64(vmStat.Total) / 1024 / 1024 / 1024
	}
	return info
}

// Meta flattens the host facts into run parameters.
func (s SysInfo) Meta() map[string]any {
	return map[string]any{
		"arch":     s.Arch,
		"hostname": s.Hostname,
		"platform": s.Platform,
		"ram":      s.RAM,
		"cpu":      s.CPUCount,
		"freq":     s.CPUFreq,
	}
}

// ClearCaches drops the OS page cache so reads hit the disk.
func ClearCaches() error {
	switch runtime.GOOS {
	case "linux":
		if err := exec.Command("sync").Run(); err != nil {
			return err
		}
		if err := exec.Command("sh", "-c", "echo 3 | sudo tee /proc/sys/vm/drop_caches").Run(); err != nil {
			return err
		}
		return nil
	case "darwin":
		if err := exec.Command("sync").Run(); err != nil {
			return err
		}
		if err := exec.Command("purge").Run(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("unable to clear caches for platform '%v'", runtime.GOOS)
}
