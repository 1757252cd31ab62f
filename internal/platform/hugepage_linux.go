//go:build linux

package platform

import (
	"math/bits"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// mapHugeShift is MAP_HUGE_SHIFT from mmap(2): the size of a huge page is
// encoded into the high bits of the mmap flags as log2(size) << 26.
const mapHugeShift = 26

type hugePageConfig struct {
	size int // bytes
	flag int // mmap flag bits requesting this page size
}

// hugePageConfigs lists the huge page sizes the kernel exposes under
// /sys/kernel/mm/hugepages, largest first, read once at process start.
var hugePageConfigs = loadHugePageConfigs()

func hasHugePages() bool {
	return len(hugePageConfigs) > 0
}

func bestHugePageConfig(size int) (hugePageConfig, bool) {
	for _, cfg := range hugePageConfigs {
		if size >= cfg.size {
			return cfg, true
		}
	}
	return hugePageConfig{}, false
}

func loadHugePageConfigs() []hugePageConfig {
	entries, err := os.ReadDir("/sys/kernel/mm/hugepages")
	if err != nil {
		return nil
	}

	configs := make([]hugePageConfig, 0, len(entries))
	for _, e := range entries {
		sizeKB, ok := parseHugePageDirName(e.Name())
		if !ok {
			continue
		}
		sizeBytes := sizeKB * 1024
		shift := bits.TrailingZeros(uint(sizeBytes))
		configs = append(configs, hugePageConfig{
			size: sizeBytes,
			flag: unix.MAP_HUGETLB | (shift << mapHugeShift),
		})
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].size > configs[j].size })
	return configs
}

func parseHugePageDirName(name string) (int, bool) {
	const prefix, suffix = "hugepages-", "kB"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil {
		return 0, false
	}
	return n, true
}
