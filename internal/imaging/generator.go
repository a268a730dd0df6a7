// Пакет imaging — генерация производных изображений: декодирование,
// масштабирование, обрезка по центру и кодирование в выходной формат.
// Реализация на чистом Go (без CGo).
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

// Result — сгенерированное производное изображение.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Generator — генератор производных изображений. Без состояния,
// безопасен для конкурентного использования.
type Generator struct {
	// scaler — ядро интерполяции
	scaler draw.Scaler
}

// New создаёт Generator с интерполяцией Catmull-Rom.
func New() *Generator {
	return &Generator{scaler: draw.CatmullRom}
}

// Dimensions возвращает размеры изображения, читая только заголовок.
func (g *Generator) Dimensions(src []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", model.ErrUnsupportedSourceFormat, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Generate декодирует src, применяет трансформацию spec и кодирует
// результат в spec.Format. spec должна быть эффективной
// (model.TransformSpec.Effective).
func (g *Generator) Generate(src []byte, spec model.TransformSpec) (*Result, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnsupportedSourceFormat, err)
	}

	b := img.Bounds()
	srcRect, dstW, dstH := Plan(b.Dx(), b.Dy(), spec)
	srcRect = srcRect.Add(b.Min)

	out := img
	if dstW != b.Dx() || dstH != b.Dy() || srcRect != b {
		dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		g.scaler.Scale(dst, dst.Bounds(), img, srcRect, draw.Src, nil)
		out = dst
	}

	data, err := encode(out, spec)
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Width: dstW, Height: dstH}, nil
}

// Plan вычисляет прямоугольник источника и размеры результата.
//   - обе стороны и crop: ровно W×H, центральная область источника
//     с соотношением сторон цели;
//   - обе стороны без crop: вписывание в W×H с сохранением пропорций;
//   - одна сторона: пропорциональное масштабирование по ней;
//   - без размеров: исходный размер.
func Plan(srcW, srcH int, spec model.TransformSpec) (image.Rectangle, int, int) {
	full := image.Rect(0, 0, srcW, srcH)
	w, h := spec.Width, spec.Height

	switch {
	case w > 0 && h > 0 && spec.Crop:
		cw, ch := srcW, srcH
		if srcW*h > srcH*w {
			// источник шире цели — обрезаем по ширине
			cw = max(roundDiv(srcH*w, h), 1)
		} else {
			ch = max(roundDiv(srcW*h, w), 1)
		}
		x0 := (srcW - cw) / 2
		y0 := (srcH - ch) / 2
		return image.Rect(x0, y0, x0+cw, y0+ch), w, h

	case w > 0 && h > 0:
		scale := min(float64(w)/float64(srcW), float64(h)/float64(srcH))
		if !spec.Upscale {
			scale = min(scale, 1)
		}
		return full, scaled(srcW, scale), scaled(srcH, scale)

	case w > 0:
		scale := float64(w) / float64(srcW)
		if !spec.Upscale {
			scale = min(scale, 1)
		}
		return full, scaled(srcW, scale), scaled(srcH, scale)

	case h > 0:
		scale := float64(h) / float64(srcH)
		if !spec.Upscale {
			scale = min(scale, 1)
		}
		return full, scaled(srcW, scale), scaled(srcH, scale)

	default:
		return full, srcW, srcH
	}
}

// encode кодирует изображение в формат spec.Format. Качество
// учитывается только JPEG; PNG и WebP кодируются без потерь.
func encode(img image.Image, spec model.TransformSpec) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch spec.Format {
	case model.FormatPNG:
		err = png.Encode(&buf, img)
	case model.FormatWebP:
		// nativewebp кодирует только lossless (VP8L), параметра качества нет
		err = nativewebp.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: spec.Quality})
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования %s: %w", spec.Format, err)
	}
	return buf.Bytes(), nil
}

// flatten накладывает изображение с прозрачностью на белый фон:
// JPEG не хранит альфа-канал.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

func scaled(v int, scale float64) int {
	return max(int(float64(v)*scale+0.5), 1)
}

func roundDiv(a, b int) int {
	return (a + b/2) / b
}
