// Пакет cachekey — детерминированные имена файлов кэша производных
// изображений.
//
// Формат ключа:
//
//	{base}_w{W|x}_h{H|x}_crop{0|1}_q{Q}[_up1].{ext}
//
// где base — относительный путь оригинала с "/" и "\" заменёнными на "_"
// и без собственного расширения. Все производные одного оригинала
// начинаются с base + "_w", что используется при каскадном удалении.
package cachekey

import (
	"path"
	"strconv"
	"strings"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

// Base возвращает префикс ключа для относительного пути оригинала.
// Расширение отбрасывается, только если точка не первая в имени.
func Base(sourcePath string) string {
	base := strings.NewReplacer("/", "_", `\`, "_").Replace(sourcePath)
	if dot := strings.LastIndexByte(base, '.'); dot > 0 && !strings.Contains(base[dot:], "_") {
		base = base[:dot]
	}
	return base
}

// Key возвращает имя файла кэша для пути оригинала и трансформации.
// spec ожидается нормализованной (model.TransformSpec.Normalize).
func Key(sourcePath string, spec model.TransformSpec) string {
	var b strings.Builder
	b.WriteString(Base(sourcePath))
	b.WriteString("_w")
	b.WriteString(dimension(spec.Width))
	b.WriteString("_h")
	b.WriteString(dimension(spec.Height))
	if spec.Crop {
		b.WriteString("_crop1")
	} else {
		b.WriteString("_crop0")
	}
	b.WriteString("_q")
	b.WriteString(strconv.Itoa(spec.Quality))
	if spec.Upscale {
		b.WriteString("_up1")
	}
	b.WriteByte('.')
	b.WriteString(spec.Format.Ext())
	return b.String()
}

// RelPath возвращает путь записи кэша относительно корня кэша:
// каталог оригинала + ключ. Записи одного каталога лежат рядом,
// что сужает обход при каскадном удалении.
func RelPath(sourcePath string, spec model.TransformSpec) string {
	return path.Join(Dir(sourcePath), Key(sourcePath, spec))
}

// Dir возвращает каталог оригинала в кэше ("" для корня).
func Dir(sourcePath string) string {
	dir := path.Dir(strings.ReplaceAll(sourcePath, `\`, "/"))
	if dir == "." {
		return ""
	}
	return dir
}

// Prefix возвращает префикс, общий для всех производных оригинала.
func Prefix(sourcePath string) string {
	return Base(sourcePath)
}

// Matches сообщает, является ли name ключом производной с префиксом prefix.
// После префикса обязателен сегмент "_w{W|x}_h", поэтому производные
// "a/bc.jpg" не совпадают с префиксом "a/b.jpg", а производные "a_w.jpg"
// не совпадают с префиксом "a.jpg".
func Matches(name, prefix string) bool {
	rest, ok := strings.CutPrefix(name, prefix+"_w")
	if !ok {
		return false
	}
	if after, ok := strings.CutPrefix(rest, "x"); ok {
		return strings.HasPrefix(after, "_h")
	}
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	return digits > 0 && strings.HasPrefix(rest[digits:], "_h")
}

func dimension(v int) string {
	if v <= 0 {
		return "x"
	}
	return strconv.Itoa(v)
}
