// lock.go — межпроцессная блокировка очистки через flock() в корне кэша.
//
// Несколько экземпляров могут делить один каталог кэша (общий том).
// Очистку в каждый момент выполняет только тот, кто держит блокировку
// {cacheDir}/.sweep.lock; остальные пропускают запуск.
package derivstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// LockFile — имя файла блокировки очистки в корне кэша.
const LockFile = ".sweep.lock"

// SweepLock — удерживаемая блокировка очистки.
type SweepLock struct {
	file *os.File
}

// TryLockSweep пытается захватить блокировку без ожидания.
// Возвращает nil, false, nil, если блокировку держит другой процесс.
func TryLockSweep(cacheDir string) (*SweepLock, bool, error) {
	lockPath := filepath.Join(cacheDir, LockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, false, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	// Неблокирующая попытка захватить эксклюзивную блокировку
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock %s: %w", lockPath, err)
	}

	return &SweepLock{file: f}, true, nil
}

// Unlock снимает блокировку. Файл блокировки остаётся на месте.
func (l *SweepLock) Unlock() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// IsInternal сообщает, что файл в корне кэша служебный и не является
// записью: временный файл публикации или файл блокировки.
func IsInternal(name string) bool {
	return IsTemp(name) || name == LockFile
}
