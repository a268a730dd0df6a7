// Пакет derivstore — дисковый уровень кэша производных изображений.
// Запись публикуется атомарно (temp → fsync → rename): читатель видит
// либо отсутствие файла, либо полный файл.
package derivstore

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
	"github.com/bigkaa/goartstore/image-server/internal/storage/cachekey"
	"github.com/bigkaa/goartstore/image-server/internal/storage/pathguard"
)

// tmpSuffix — суффикс временных файлов публикации.
const tmpSuffix = ".tmp"

// Store — кэш производных на диске.
type Store struct {
	guard *pathguard.Guard
}

// PurgeResult — итог удаления производных по префиксу.
type PurgeResult struct {
	// Removed — относительные пути удалённых записей
	Removed []string
	// Failed — число записей, которые не удалось удалить
	Failed int
}

// New создаёт Store поверх подготовленного корня cacheDir.
func New(cacheDir string) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию кэша %s: %w", cacheDir, err)
	}
	guard, err := pathguard.New(cacheDir)
	if err != nil {
		return nil, err
	}
	return &Store{guard: guard}, nil
}

// Root возвращает абсолютный путь корня кэша.
func (s *Store) Root() string {
	return s.guard.Root()
}

// IsTemp сообщает, является ли имя файла временным файлом публикации.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tmpSuffix)
}

// Lookup читает запись кэша. Отсутствие записи — промах, не ошибка.
func (s *Store) Lookup(relPath string) ([]byte, bool, error) {
	abs, _, err := s.guard.Resolve(relPath)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		// каталог на месте записи — тоже промах
		if info, serr := os.Stat(abs); serr == nil && info.IsDir() {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: чтение %s: %w", model.ErrStorageIO, relPath, err)
	}
	return data, true, nil
}

// Publish атомарно записывает данные под relPath. Каталоги создаются
// при необходимости. Если каталог исчез во время записи (его удалила
// очистка пустых каталогов), запись повторяется один раз.
func (s *Store) Publish(relPath string, data []byte) error {
	abs, _, err := s.guard.Resolve(relPath)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = writeAtomic(abs, data)
		if err == nil {
			return nil
		}
		if attempt > 0 || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: публикация %s: %w", model.ErrStorageIO, relPath, err)
		}
	}
}

// writeAtomic: temp файл в том же каталоге → запись → fsync → rename.
// При ошибке temp файл удаляется.
func writeAtomic(fullPath string, data []byte) error {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// PurgeByPrefix удаляет все производные оригинала sourcePath.
// Записи оригинала лежат в его каталоге кэша, поэтому просматривается
// только этот каталог. Ошибки отдельных файлов подсчитываются,
// обход не прерывается.
func (s *Store) PurgeByPrefix(sourcePath string) (*PurgeResult, error) {
	dirRel := cachekey.Dir(sourcePath)
	dirAbs, dirRel, err := s.guard.ResolveDir(dirRel)
	if err != nil {
		return nil, err
	}

	result := &PurgeResult{}
	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("%w: чтение каталога %s: %w", model.ErrStorageIO, dirRel, err)
	}

	prefix := cachekey.Prefix(sourcePath)
	for _, entry := range entries {
		if entry.IsDir() || !cachekey.Matches(entry.Name(), prefix) {
			continue
		}
		err := os.Remove(filepath.Join(dirAbs, entry.Name()))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			result.Failed++
			continue
		}
		result.Removed = append(result.Removed, path.Join(dirRel, entry.Name()))
	}
	return result, nil
}
