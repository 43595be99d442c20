package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

var (
	// ErrUnknownFormat формат пикселей не поддерживается кодировщиком
	ErrUnknownFormat = errors.New("unknown pixel format")
	// ErrFrameSize длина буфера не соответствует размерам кадра
	ErrFrameSize = errors.New("frame size mismatch")
	// ErrFrameReleased кадр уже возвращен в пул
	ErrFrameReleased = errors.New("frame already released")
)

// Encoder приводит кадр к JPEG
type Encoder struct {
	quality int
}

// NewEncoder создает кодировщик с заданным качеством JPEG (1..100)
func NewEncoder(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Encoder{quality: quality}
}

// Encode возвращает JPEG байты кадра. JPEG кадр отдается без копирования,
// остальные форматы кодируются в dst. Результат валиден, пока кадр не возвращен и dst не переиспользован.
func (e *Encoder) Encode(f *Frame, dst *bytes.Buffer) ([]byte, error) {
	data := f.Bytes()
	if data == nil {
		return nil, ErrFrameReleased
	}

	if f.Format == FormatJPEG {
		return data, nil
	}

	img, err := toImage(f.Format, data, f.Width, f.Height)
	if err != nil {
		return nil, err
	}

	dst.Reset()
	if err := jpeg.Encode(dst, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return dst.Bytes(), nil
}

func toImage(format PixelFormat, data []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, width, height)
	}
	pixels := width * height
	rect := image.Rect(0, 0, width, height)

	switch format {
	case FormatGrayscale:
		if len(data) != pixels {
			return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrFrameSize, format, width, height, pixels, len(data))
		}
		return &image.Gray{Pix: data, Stride: width, Rect: rect}, nil

	case FormatRGB888:
		if len(data) != pixels*3 {
			return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrFrameSize, format, width, height, pixels*3, len(data))
		}
		img := image.NewRGBA(rect)
		for i, j := 0, 0; j < len(data); i, j = i+4, j+3 {
			img.Pix[i] = data[j]
			img.Pix[i+1] = data[j+1]
			img.Pix[i+2] = data[j+2]
			img.Pix[i+3] = 0xff
		}
		return img, nil

	case FormatRGB565:
		if len(data) != pixels*2 {
			return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrFrameSize, format, width, height, pixels*2, len(data))
		}
		img := image.NewRGBA(rect)
		// старший байт первым, как отдает сенсор
		for i, j := 0, 0; j < len(data); i, j = i+4, j+2 {
			v := uint16(data[j])<<8 | uint16(data[j+1])
			r := uint8(v >> 11 & 0x1f)
			g := uint8(v >> 5 & 0x3f)
			b := uint8(v & 0x1f)
			img.Pix[i] = r<<3 | r>>2
			img.Pix[i+1] = g<<2 | g>>4
			img.Pix[i+2] = b<<3 | b>>2
			img.Pix[i+3] = 0xff
		}
		return img, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
