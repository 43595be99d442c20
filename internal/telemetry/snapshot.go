package telemetry

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"camstream/internal/netlink"
)

// Snapshot системные показатели на момент записи
type Snapshot struct {
	UptimeMS           int64   `json:"uptime_ms"`
	FreeHeap           uint64  `json:"free_heap"`
	TotalHeap          uint64  `json:"total_heap"`
	MinFreeHeap        uint64  `json:"min_free_heap"`
	MaxAllocHeap       uint64  `json:"max_alloc_heap"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`

	ChipID       string `json:"chip_id"`
	ChipModel    string `json:"chip_model"`
	ChipRevision string `json:"chip_revision"`
	CPUFreqMHz   int    `json:"cpu_freq_mhz"`
	CPUCount     int    `json:"cpu_count"`
	Goroutines   int    `json:"goroutines"`

	IPAddress     string `json:"ip_address"`
	MACAddress    string `json:"mac_address"`
	SubnetMask    string `json:"subnet_mask"`
	InterfaceName string `json:"interface_name"`
	Hostname      string `json:"hostname"`

	FlashChipSize uint64 `json:"flash_chip_size"`
	FlashFree     uint64 `json:"flash_free"`
	SDKVersion    string `json:"sdk_version"`
}

// sampler собирает Snapshot; минимум свободной кучи хранится между вызовами
type sampler struct {
	clock       *Clock
	link        netlink.Link
	storagePath string
	minFree     atomic.Uint64

	idOnce sync.Once
	chipID string
}

func newSampler(clock *Clock, link netlink.Link) *sampler {
	return &sampler{clock: clock, link: link, storagePath: "."}
}

func (c *sampler) collect() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	total := m.HeapSys
	free := uint64(0)
	if m.HeapSys > m.HeapAlloc {
		free = m.HeapSys - m.HeapAlloc
	}
	minFree := c.observeFree(free)

	usage := 0.0
	if total > 0 {
		usage = float64(total-free) / float64(total) * 100
	}

	s := Snapshot{
		UptimeMS:           c.clock.Uptime().Milliseconds(),
		FreeHeap:           free,
		TotalHeap:          total,
		MinFreeHeap:        minFree,
		MaxAllocHeap:       m.HeapIdle,
		MemoryUsagePercent: usage,
		ChipID:             c.deviceID(),
		ChipModel:          runtime.GOOS + "/" + runtime.GOARCH,
		ChipRevision:       kernelRelease(),
		CPUFreqMHz:         cpuFreqMHz(),
		CPUCount:           runtime.NumCPU(),
		Goroutines:         runtime.NumGoroutine(),
		SDKVersion:         runtime.Version(),
	}

	if c.link != nil {
		info := c.link.Info()
		s.IPAddress = info.IP
		s.MACAddress = info.MAC
		s.SubnetMask = info.Netmask
		s.InterfaceName = info.Interface
	}
	s.Hostname, _ = os.Hostname()
	s.FlashChipSize, s.FlashFree = storageStats(c.storagePath)

	return s
}

func (c *sampler) observeFree(free uint64) uint64 {
	for {
		cur := c.minFree.Load()
		if cur != 0 && cur <= free {
			return cur
		}
		if c.minFree.CompareAndSwap(cur, free) {
			return free
		}
	}
}

// deviceID берет machine-id хоста; если его нет, генерирует идентификатор на время жизни процесса
func (c *sampler) deviceID() string {
	c.idOnce.Do(func() {
		if data, err := os.ReadFile("/etc/machine-id"); err == nil {
			id := strings.TrimSpace(string(data))
			if len(id) >= 12 {
				c.chipID = id[:12]
				return
			}
		}
		c.chipID = strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	})
	return c.chipID
}

func cpuFreqMHz() int {
	data, err := os.ReadFile("/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq")
	if err != nil {
		return 0
	}
	khz, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return khz / 1000
}
