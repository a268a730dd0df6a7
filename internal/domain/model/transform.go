// Пакет model — доменные модели Image Server: параметры трансформации
// изображения и выходные форматы.
package model

import (
	"fmt"
	"strings"
)

// Format — выходной формат производного изображения.
type Format string

const (
	// FormatJPEG — формат по умолчанию, в том числе для нераспознанных значений
	FormatJPEG Format = "jpeg"
	// FormatPNG — PNG без потерь
	FormatPNG Format = "png"
	// FormatWebP — WebP без потерь
	FormatWebP Format = "webp"
)

// ParseFormat возвращает формат по строке из запроса или расширению файла.
// Всё, что не png и не webp, трактуется как JPEG.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	default:
		return FormatJPEG
	}
}

// Ext возвращает расширение файла (без точки) для формата.
func (f Format) Ext() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return "jpg"
	}
}

// ContentType возвращает MIME-тип формата.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ContentTypeByExt возвращает MIME-тип оригинала по его расширению.
// Используется при отдаче оригинала без трансформации.
func ContentTypeByExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

// TransformSpec — запрошенная трансформация. Width/Height равные 0 означают
// «не задано». Структура сравнима через ==, после Normalize равенство
// значений совпадает с равенством ключей кэша.
type TransformSpec struct {
	Width   int
	Height  int
	Crop    bool
	Quality int
	Format  Format
	Upscale bool
}

// Normalize приводит качество к диапазону [1,100] и формат к одному из
// поддерживаемых значений.
func (s TransformSpec) Normalize() TransformSpec {
	s.Quality = min(max(s.Quality, 1), 100)
	s.Format = ParseFormat(string(s.Format))
	return s
}

// Validate проверяет, что размеры не отрицательны и не превышают maxDimension.
func (s TransformSpec) Validate(maxDimension int) error {
	if s.Width < 0 || s.Width > maxDimension {
		return fmt.Errorf("%w: w=%d, допустимо 1..%d", ErrInvalidParameter, s.Width, maxDimension)
	}
	if s.Height < 0 || s.Height > maxDimension {
		return fmt.Errorf("%w: h=%d, допустимо 1..%d", ErrInvalidParameter, s.Height, maxDimension)
	}
	return nil
}

// HasDimensions сообщает, задан ли хотя бы один размер.
func (s TransformSpec) HasDimensions() bool {
	return s.Width > 0 || s.Height > 0
}

// Effective возвращает трансформацию, реально применимую к источнику
// размером srcW×srcH. Без Upscale размеры ограничиваются размерами
// источника. С Upscale флаг сбрасывается, если ни один запрошенный размер
// не превышает источник: увеличения не будет, и запись кэша общая с
// запросом без Upscale.
func (s TransformSpec) Effective(srcW, srcH int) TransformSpec {
	if s.Upscale {
		if s.Width <= srcW && s.Height <= srcH {
			s.Upscale = false
		}
		return s
	}
	if s.Width > srcW {
		s.Width = srcW
	}
	if s.Height > srcH {
		s.Height = srcH
	}
	return s
}

// String — компактное представление для логов.
func (s TransformSpec) String() string {
	return fmt.Sprintf("w=%d h=%d crop=%t q=%d fmt=%s upscale=%t",
		s.Width, s.Height, s.Crop, s.Quality, s.Format, s.Upscale)
}
