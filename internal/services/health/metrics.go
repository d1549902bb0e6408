package healthservice

import (
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// cpuPercent is a loadavg-based estimate normalized by core count.
func cpuPercent() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	parts := strings.Fields(string(b))
	if len(parts) == 0 {
		return 0
	}

	load, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}

	cpus := float64(runtime.NumCPU())
	if cpus <= 0 {
		cpus = 1
	}

	return clampPercent(load / cpus * 100)
}

func memoryPercent() float64 {
	b, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	var totalKB, availKB float64
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseFloat(fields[1], 64)
		}
	}

	if totalKB <= 0 {
		return 0
	}

	return clampPercent((totalKB - availKB) / totalKB * 100)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}

	return v
}

func diskFreeBytes(path string) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0
	}

	return int64(stat.Bavail) * int64(stat.Bsize)
}

func storageUsedBytes(path string) int64 {
	var total int64

	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		if info, err := d.Info(); err == nil {
			total += info.Size()
		}

		return nil
	})

	return total
}

// temperatureC reads the SoC thermal zone. Hosts without one report nil.
func temperatureC() *float64 {
	b, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return nil
	}

	milli, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return nil
	}

	deg := milli / 1000

	return &deg
}

// ipAddress resolves the outbound interface address without sending any
// traffic; the dial never leaves the host.
func ipAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}

	return addr.IP.String()
}
