//go:build !linux && !darwin && !freebsd

package telemetry

func storageStats(string) (total, free uint64) {
	return 0, 0
}

func kernelRelease() string {
	return ""
}
