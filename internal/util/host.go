package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const mib = 1024 * 1024

// HostInfo describes the machine the relay bench runs on.
type HostInfo struct {
	Hostname string `json:"hostname"`
	GOOS     string `json:"goos"`
	GOARCH   string `json:"goarch"`
	OS       string `json:"os,omitempty"`
	CPUModel string `json:"cpu_model,omitempty"`
	CPUCores int    `json:"cpu_cores"`
	MemoryMB uint64 `json:"memory_mb,omitempty"`
	UptimeS  uint64 `json:"uptime_sec,omitempty"`
}

// CollectHostInfo reads host facts through gopsutil. The returned info is
// always usable; err joins whatever probes failed so callers can log it.
func CollectHostInfo(ctx context.Context) (HostInfo, error) {
	info := HostInfo{
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	var errs []error
	if name, err := os.Hostname(); err != nil {
		errs = append(errs, fmt.Errorf("hostname: %w", err))
	} else {
		info.Hostname = name
	}

	if hi, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host: %w", err))
	} else {
		info.OS = hi.Platform + " " + hi.PlatformVersion
		info.UptimeS = hi.Uptime
	}

	if ci, err := cpu.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(ci) > 0 {
		info.CPUModel = ci[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		info.MemoryMB = vm.Total / mib
	}

	return info, errors.Join(errs...)
}

// Usage is a point-in-time load sample served by the monitor API.
type Usage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemAvailMB    uint64  `json:"mem_available_mb"`
	MemUsedPct    float64 `json:"mem_used_percent"`
	Goroutines    int     `json:"goroutines"`
	ProcessHeapMB uint64  `json:"process_heap_mb"`
}

// SampleUsage takes one non-blocking load sample.
func SampleUsage(ctx context.Context) (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	u := Usage{
		Goroutines:    runtime.NumGoroutine(),
		ProcessHeapMB: ms.HeapAlloc / mib,
	}

	var errs []error
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(pct) > 0 {
		u.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		u.MemUsedMB = vm.Used / mib
		u.MemAvailMB = vm.Available / mib
		u.MemUsedPct = vm.UsedPercent
	}

	return u, errors.Join(errs...)
}

// AdvertiseAddr returns the address relay clients should dial for a listener
// bound to bindHost. Wildcard binds resolve to the first non-loopback IPv4.
func AdvertiseAddr(bindHost string) string {
	if ip := net.ParseIP(bindHost); bindHost != "" && (ip == nil || !ip.IsUnspecified()) {
		return bindHost
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
