// Package device 获取设备硬件标识与平台标签
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
)

// ErrNoMAC 没有可用的网卡硬件地址
var ErrNoMAC = errors.New("no hardware address found")

// NormalizeMAC 去掉分隔符并转为大写，如 5c:cf:7f:ee:90:e0 → 5CCF7FEE90E0
func NormalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(mac)))
}

// Interface 网卡摘要
type Interface struct {
	Name         string
	HardwareAddr string
	Loopback     bool
}

// PickMAC 按名称顺序选择第一个非回环、非全零的网卡地址
func PickMAC(ifaces []Interface) (string, error) {
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
	for _, iface := range ifaces {
		if iface.Loopback {
			continue
		}
		mac := NormalizeMAC(iface.HardwareAddr)
		if mac == "" || strings.Trim(mac, "0") == "" {
			continue
		}
		return mac, nil
	}
	return "", ErrNoMAC
}

// DiscoverMAC override 非空时直接使用，否则读取本机网卡
func DiscoverMAC(override string) (string, error) {
	if override != "" {
		return NormalizeMAC(override), nil
	}

	stats, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}

	ifaces := make([]Interface, 0, len(stats))
	for _, s := range stats {
		ifaces = append(ifaces, Interface{
			Name:         s.Name,
			HardwareAddr: s.HardwareAddr,
			Loopback:     hasFlag(s.Flags, "loopback"),
		})
	}
	return PickMAC(ifaces)
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Platform override 非空时直接使用，否则为 os-arch（如 linux-arm64）
func Platform(override string) string {
	if override != "" {
		return override
	}
	info, err := host.Info()
	if err != nil || info.OS == "" {
		return "unknown"
	}
	if info.KernelArch == "" {
		return info.OS
	}
	return info.OS + "-" + info.KernelArch
}
