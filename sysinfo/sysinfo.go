// Package sysinfo probes the host for the facts the slab allocator's
// geometry planner and NUMA policy need: page size and node/CPU
// topology. The cache-line size is not read from the host; Probe
// reports 64. It probes once and returns a plain summary struct rather
// than exposing raw /proc parsing to callers.
package sysinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Topology summarizes what the allocator needs to know about the host.
type Topology struct {
	PageSize  uint
	NumCPU    int
	NumNodes  int
	CacheLine uint
}

var nodeDirRe = regexp.MustCompile(`^node(\d+)$`)

// Probe reads the host topology. It never fails: every field falls back
// to a conservative single-node, single-page-size default so that
// callers (cache.New, cache.Bootstrap) can run unmodified under a
// container or test sandbox that doesn't expose /sys.
func Probe() Topology {
	t := Topology{
		PageSize:  uint(unix.Getpagesize()),
		NumCPU:    runtime.NumCPU(),
		NumNodes:  numaNodeCount(),
		CacheLine: 64,
	}
	if t.PageSize == 0 {
		t.PageSize = 4096
	}
	if t.NumNodes == 0 {
		t.NumNodes = 1
	}
	return t
}

// numaNodeCount counts directories under /sys/devices/system/node named
// nodeN. Returns 0 (meaning "unknown, caller defaults to 1") when the
// path doesn't exist, e.g. non-Linux hosts or sandboxes without sysfs.
func numaNodeCount() int {
	const base = "/sys/devices/system/node"
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if nodeDirRe.MatchString(filepath.Base(e.Name())) {
			n++
		}
	}
	return n
}

// MemInfo is the small subset of /proc/meminfo a memory-pressure policy
// cares about when sizing free limits.
type MemInfo struct {
	TotalBytes  uint64
	FreeBytes   uint64
	SwapUsedKiB uint64
}

// ReadMemInfo parses /proc/meminfo. Like Probe, it degrades gracefully:
// on hosts without /proc (or in a sandboxed test run) it returns a zero
// MemInfo, and callers are expected to treat zero as "unknown, assume
// plentiful" rather than "zero memory available".
func ReadMemInfo() MemInfo {
	var mi MemInfo
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return mi
	}
	defer f.Close()

	var swapTotalKiB, swapFreeKiB uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		val, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			mi.TotalBytes = val * 1024
		case "MemAvailable":
			mi.FreeBytes = val * 1024
		case "SwapTotal":
			swapTotalKiB = val
		case "SwapFree":
			swapFreeKiB = val
		}
	}
	if swapTotalKiB > swapFreeKiB {
		mi.SwapUsedKiB = swapTotalKiB - swapFreeKiB
	}
	return mi
}
