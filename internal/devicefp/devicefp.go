// Package devicefp computes a deterministic environment fingerprint
// embedded in RunHeader.v0.env. Grounded on
// runtime/device_fingerprint.py; the original's Raspberry-Pi-specific
// nvme/mmcblk/nvidia sniffing is generalized to runtime.NumCPU() and
// runtime.GOARCH since those are meaningful off ARM SBCs, while
// Linux-only /proc/meminfo parsing is kept for deployment targets that
// have it.
package devicefp

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/antigravity-dev/abraxas/internal/canon"
)

// Fingerprint is the deterministic-per-machine environment record
// folded into RunHeader.v0.env.
type Fingerprint struct {
	GoVersion       string `json:"go_version"`
	GOOS            string `json:"goos"`
	GOARCH          string `json:"goarch"`
	NumCPU          int    `json:"num_cpu"`
	MemTotalBytes   int64  `json:"mem_total_bytes"`
	FingerprintHash string `json:"fingerprint_hash"`
}

// Get computes the current machine's Fingerprint, including its
// content-hash over every field but the hash itself.
func Get() (Fingerprint, error) {
	fp := Fingerprint{
		GoVersion:     runtime.Version(),
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		MemTotalBytes: memTotalBytes(),
	}

	payload := map[string]any{
		"go_version":      fp.GoVersion,
		"goos":            fp.GOOS,
		"goarch":          fp.GOARCH,
		"num_cpu":         fp.NumCPU,
		"mem_total_bytes": fp.MemTotalBytes,
	}
	h, err := canon.HashJSON(payload)
	if err != nil {
		return Fingerprint{}, err
	}
	fp.FingerprintHash = h
	return fp, nil
}

// memTotalBytes is Linux-only, parsed from /proc/meminfo; other
// platforms report zero rather than failing.
func memTotalBytes() int64 {
	raw, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "MemTotal") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
