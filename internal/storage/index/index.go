// Пакет index — потокобезопасный in-memory индекс записей кэша
// производных изображений.
//
// Индекс строится при старте обходом корня кэша (BuildFromDir)
// и обновляется синхронно при публикации, каскадном удалении и очистке.
// Используется для метрик, /api/v1/info и readiness.
//
// Индекс не авторитетен: решения о промахе, удалении и очистке
// принимаются по файловой системе. Расхождения устраняются
// следующей очисткой через Sync.
package index

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry — сведения о записи кэша.
type Entry struct {
	// Size — размер файла в байтах
	Size int64
	// ModTime — время последнего изменения (единственный вход очистки)
	ModTime time.Time
}

// Stats — агрегированные сведения для /api/v1/info.
type Stats struct {
	Entries    int       `json:"entries"`
	TotalBytes int64     `json:"total_bytes"`
	Oldest     time.Time `json:"oldest,omitzero"`
}

// Index — потокобезопасный индекс: относительный путь → Entry.
type Index struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	totalBytes int64
	ready      bool
	logger     *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	return &Index{
		entries: make(map[string]Entry),
		logger:  logger.With(slog.String("component", "index")),
	}
}

// SkipFunc сообщает, что файл не является записью кэша (например, временный).
type SkipFunc func(name string) bool

// BuildFromDir строит индекс обходом каталога cacheDir.
// Заменяет текущее содержимое. После успешного построения индекс
// помечается как ready.
func (idx *Index) BuildFromDir(cacheDir string, skip SkipFunc) error {
	entries := make(map[string]Entry)
	var total int64

	err := filepath.WalkDir(cacheDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// файл мог исчезнуть во время обхода
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || (skip != nil && skip(d.Name())) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(cacheDir, p)
		if err != nil {
			return nil
		}
		entries[filepath.ToSlash(rel)] = Entry{Size: info.Size(), ModTime: info.ModTime()}
		total += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории %s: %w", cacheDir, err)
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.totalBytes = total
	idx.ready = true
	idx.mu.Unlock()

	idx.logger.Info("Индекс кэша построен",
		slog.Int("entries", len(entries)),
		slog.Int64("total_bytes", total),
		slog.String("cache_dir", cacheDir),
	)
	return nil
}

// Sync пересобирает индекс после очистки. Ошибка только логируется.
func (idx *Index) Sync(cacheDir string, skip SkipFunc) {
	if err := idx.BuildFromDir(cacheDir, skip); err != nil {
		idx.logger.Warn("Не удалось пересобрать индекс кэша", slog.String("error", err.Error()))
	}
}

// IsReady возвращает true, если индекс построен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Add добавляет или обновляет запись.
func (idx *Index) Add(relPath string, size int64, modTime time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.entries[relPath]; ok {
		idx.totalBytes -= old.Size
	}
	idx.entries[relPath] = Entry{Size: size, ModTime: modTime}
	idx.totalBytes += size
}

// Remove удаляет запись. Возвращает true, если запись была в индексе.
func (idx *Index) Remove(relPath string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, ok := idx.entries[relPath]
	if !ok {
		return false
	}
	idx.totalBytes -= old.Size
	delete(idx.entries, relPath)
	return true
}

// Get возвращает запись по относительному пути.
func (idx *Index) Get(relPath string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[relPath]
	return e, ok
}

// ByPrefix возвращает пути записей в каталоге dir, имя которых
// удовлетворяет match.
func (idx *Index) ByPrefix(dir string, match func(name string) bool) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result []string
	for rel := range idx.entries {
		d, name := splitRel(rel)
		if d == dir && match(name) {
			result = append(result, rel)
		}
	}
	return result
}

// Count возвращает количество записей.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// TotalBytes возвращает суммарный размер записей.
func (idx *Index) TotalBytes() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalBytes
}

// Stats возвращает агрегированные сведения.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	st := Stats{Entries: len(idx.entries), TotalBytes: idx.totalBytes}
	for _, e := range idx.entries {
		if st.Oldest.IsZero() || e.ModTime.Before(st.Oldest) {
			st.Oldest = e.ModTime
		}
	}
	return st
}

func splitRel(rel string) (dir, name string) {
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return "", rel
	}
	return rel[:i], rel[i+1:]
}
