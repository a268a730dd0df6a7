// Пакет pathguard — проверка и нормализация относительных путей
// внутри корня хранилища. Любой путь из запроса проходит через Guard
// до обращения к файловой системе.
package pathguard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

// Guard привязан к одному корню (оригиналы или кэш).
type Guard struct {
	// root — абсолютный путь корня
	root string
	// resolvedRoot — корень после раскрытия символических ссылок
	resolvedRoot string
}

// New создаёт Guard для существующего каталога root.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить абсолютный путь %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("не удалось раскрыть корень %s: %w", abs, err)
	}
	return &Guard{root: abs, resolvedRoot: resolved}, nil
}

// Root возвращает абсолютный путь корня.
func (g *Guard) Root() string {
	return g.root
}

// Clean нормализует относительный путь без обращения к файловой системе:
// разделители "\" приводятся к "/", повторные слеши схлопываются.
// Возвращает "" для пустого пути (корень).
func Clean(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: нулевой байт в пути", model.ErrInvalidPath)
	}
	// Любое вхождение ".." отсекается до преобразований, в том числе
	// внутри имени ("a..b.jpg")
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: %q содержит ..", model.ErrInvalidPath, rel)
	}
	rel = strings.ReplaceAll(rel, `\`, "/")
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: абсолютный путь %q", model.ErrForbiddenPath, rel)
	}
	if strings.TrimSpace(rel) == "" {
		return "", nil
	}
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// Resolve проверяет путь к файлу и возвращает абсолютный путь на диске
// и нормализованный относительный путь. Пустой путь недопустим.
func (g *Guard) Resolve(rel string) (abs, cleaned string, err error) {
	cleaned, err = Clean(rel)
	if err != nil {
		return "", "", err
	}
	if cleaned == "" {
		return "", "", fmt.Errorf("%w: пустой путь к файлу", model.ErrInvalidPath)
	}
	abs, err = g.contain(cleaned)
	if err != nil {
		return "", "", err
	}
	return abs, cleaned, nil
}

// ResolveDir проверяет путь к каталогу. Пустой путь означает корень.
func (g *Guard) ResolveDir(rel string) (abs, cleaned string, err error) {
	cleaned, err = Clean(rel)
	if err != nil {
		return "", "", err
	}
	if cleaned == "" {
		return g.root, "", nil
	}
	abs, err = g.contain(cleaned)
	if err != nil {
		return "", "", err
	}
	return abs, cleaned, nil
}

// contain соединяет путь с корнем и проверяет, что результат остаётся
// внутри корня, в том числе после раскрытия символических ссылок
// ближайшего существующего предка.
func (g *Guard) contain(cleaned string) (string, error) {
	joined := filepath.Join(g.root, filepath.FromSlash(cleaned))
	if !within(g.root, joined) {
		return "", fmt.Errorf("%w: %q", model.ErrForbiddenPath, cleaned)
	}

	existing := joined
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing || !within(g.root, parent) {
			return joined, nil
		}
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// висячая ссылка
			return "", fmt.Errorf("%w: %q", model.ErrForbiddenPath, cleaned)
		}
		return "", fmt.Errorf("%w: %v", model.ErrStorageIO, err)
	}
	if !within(g.resolvedRoot, resolved) {
		return "", fmt.Errorf("%w: %q указывает за пределы корня", model.ErrForbiddenPath, cleaned)
	}
	return joined, nil
}

// within сообщает, лежит ли target внутри root (или совпадает с ним).
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EnsureRoot подготавливает корень хранилища при старте: делает путь
// абсолютным, создаёт каталог и проверяет запись. Если каталог недоступен
// для записи, используется $TMPDIR/image-server/<fallbackSuffix>.
func EnsureRoot(configured, fallbackSuffix string, logger *slog.Logger) (string, error) {
	abs, err := filepath.Abs(configured)
	if err == nil {
		if err = ensureWritable(abs); err == nil {
			return abs, nil
		}
	}

	fallback := filepath.Join(os.TempDir(), "image-server", fallbackSuffix)
	logger.Warn("Каталог недоступен для записи, используется временный",
		slog.String("configured", configured),
		slog.String("fallback", fallback),
		slog.String("error", err.Error()),
	)
	if ferr := ensureWritable(fallback); ferr != nil {
		return "", fmt.Errorf("каталог %s недоступен (%v), резервный %s недоступен: %w",
			configured, err, fallback, ferr)
	}
	return fallback, nil
}

// ensureWritable создаёт каталог и проверяет запись пробным файлом.
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write_probe_*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
