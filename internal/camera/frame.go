// Package camera содержит пул кадров камеры, источники захвата и JPEG кодировщик.
package camera

import (
	"sync/atomic"
	"time"
)

// PixelFormat формат пикселей в буфере кадра
type PixelFormat int

const (
	FormatJPEG PixelFormat = iota
	FormatRGB888
	FormatRGB565
	FormatGrayscale
)

func (f PixelFormat) String() string {
	switch f {
	case FormatJPEG:
		return "JPEG"
	case FormatRGB888:
		return "RGB888"
	case FormatRGB565:
		return "RGB565"
	case FormatGrayscale:
		return "GRAYSCALE"
	default:
		return "UNKNOWN"
	}
}

// noCopy помечает структуры, которые нельзя копировать по значению (go vet copylocks)
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type slot struct {
	index int
	buf   []byte
}

// Frame захваченный кадр в слоте пула.
// Владелец кадра обязан вызвать Release ровно один раз.
type Frame struct {
	_ noCopy

	Format    PixelFormat
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64

	pool     *Pool
	slot     *slot
	n        int
	released atomic.Bool
}

// Bytes возвращает данные кадра; nil после Release
func (f *Frame) Bytes() []byte {
	if f.released.Load() {
		return nil
	}
	return f.slot.buf[:f.n]
}

// Len длина данных кадра в байтах
func (f *Frame) Len() int {
	if f.released.Load() {
		return 0
	}
	return f.n
}

// Release возвращает слот в пул. Повторный вызов ничего не делает и возвращает false.
func (f *Frame) Release() bool {
	if !f.released.CompareAndSwap(false, true) {
		f.pool.doubleReleases.Add(1)
		return false
	}
	f.pool.put(f.slot)
	f.pool.released.Add(1)
	return true
}

// Released сообщает, был ли кадр уже возвращен
func (f *Frame) Released() bool {
	return f.released.Load()
}
