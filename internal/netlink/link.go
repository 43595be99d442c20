// Package netlink сообщает о состоянии сетевого подключения устройства.
package netlink

import (
	"net"
	"sync/atomic"
)

// Info описывает активный интерфейс
type Info struct {
	Interface string
	IP        string
	Netmask   string
	MAC       string
}

// Link состояние сетевого подключения
type Link interface {
	// Up сообщает, есть ли рабочее подключение
	Up() bool
	// Info возвращает данные активного интерфейса; нулевое значение, если подключения нет
	Info() Info
}

// InterfaceLink определяет состояние по сетевым интерфейсам хоста.
// Если name пустое, берется первый поднятый не-loopback интерфейс с IPv4 адресом.
type InterfaceLink struct {
	name       string
	interfaces func() ([]net.Interface, error)
}

// NewInterfaceLink создает новый InterfaceLink
func NewInterfaceLink(name string) *InterfaceLink {
	return &InterfaceLink{
		name:       name,
		interfaces: net.Interfaces,
	}
}

// Up реализует Link
func (l *InterfaceLink) Up() bool {
	_, ok := l.lookup()
	return ok
}

// Info реализует Link
func (l *InterfaceLink) Info() Info {
	info, _ := l.lookup()
	return info
}

func (l *InterfaceLink) lookup() (Info, bool) {
	ifaces, err := l.interfaces()
	if err != nil {
		return Info{}, false
	}

	for _, iface := range ifaces {
		if l.name != "" && iface.Name != l.name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			return Info{
				Interface: iface.Name,
				IP:        ip4.String(),
				Netmask:   net.IP(ipNet.Mask).String(),
				MAC:       iface.HardwareAddr.String(),
			}, true
		}
	}

	return Info{}, false
}

// Static Link с состоянием, заданным вручную
type Static struct {
	up   atomic.Bool
	info Info
}

// NewStatic создает Static
func NewStatic(up bool, info Info) *Static {
	s := &Static{info: info}
	s.up.Store(up)
	return s
}

// Set меняет состояние подключения
func (s *Static) Set(up bool) {
	s.up.Store(up)
}

// Up реализует Link
func (s *Static) Up() bool {
	return s.up.Load()
}

// Info реализует Link
func (s *Static) Info() Info {
	if !s.up.Load() {
		return Info{}
	}
	return s.info
}

var (
	_ Link = (*InterfaceLink)(nil)
	_ Link = (*Static)(nil)
)
