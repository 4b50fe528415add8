package vision

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// NvidiaProbe detects an NVIDIA accelerator by shelling out to nvidia-smi.
// A missing binary or a non-zero exit means no accelerator, not an error.
type NvidiaProbe struct{}

func (NvidiaProbe) Detect(ctx context.Context) (Accelerator, error) {
	out, err := exec.CommandContext(ctx,
		"nvidia-smi", "--query-gpu=memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return Accelerator{}, nil
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	mib, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return Accelerator{}, err
	}
	return Accelerator{Available: true, MemoryGiB: mib / 1024}, nil
}
