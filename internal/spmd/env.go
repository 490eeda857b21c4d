package spmd

import (
	"os"
	"strconv"
)

// Launcher environment variables, checked in order.
var (
	rankEnvVars = []string{"OMPI_COMM_WORLD_RANK", "PMI_RANK", "SLURM_PROCID"}
	sizeEnvVars = []string{"OMPI_COMM_WORLD_SIZE", "PMI_SIZE", "SLURM_NTASKS"}
)

// DetectRank returns the rank published by the process launcher, or 0
func DetectRank() int {
	if v, ok := firstIntEnv(rankEnvVars); ok && v >= 0 {
		return v
	}
	return 0
}

// DetectWorldSize returns the world size published by the process launcher, or 1
func DetectWorldSize() int {
	if v, ok := firstIntEnv(sizeEnvVars); ok && v > 0 {
		return v
	}
	return 1
}

func firstIntEnv(names []string) (int, bool) {
	for _, name := range names {
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}
