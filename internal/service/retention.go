// retention.go — фоновая очистка кэша производных по сроку хранения.
//
// Очистка выполняет два обхода корня кэша:
//  1. Удаляет файлы с mtime строго раньше now − retention
//  2. Удаляет опустевшие каталоги, начиная с самых глубоких; корень не трогается
//
// Файловая система авторитетна; индекс пересобирается после обхода.
// Одновременно выполняется не более одной очистки: повторный запуск
// во время работы пропускается, как и запуск при блокировке очистки
// другим процессом на том же каталоге.
package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/image-server/internal/storage/derivstore"
	"github.com/bigkaa/goartstore/image-server/internal/storage/index"
)

// Prometheus метрики очистки
var (
	// sweepRunsTotal — количество запусков очистки по результату.
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "is_sweep_runs_total",
		Help: "Общее количество запусков очистки кэша",
	}, []string{"result"})

	// sweepFilesDeletedTotal — количество удалённых записей кэша.
	sweepFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "is_sweep_files_deleted_total",
		Help: "Общее количество записей кэша, удалённых очисткой",
	})

	// sweepErrorsTotal — ошибки при удалении.
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "is_sweep_errors_total",
		Help: "Общее количество ошибок удаления при очистке кэша",
	})

	// sweepDurationSeconds — длительность очистки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "is_sweep_duration_seconds",
		Help:    "Длительность очистки кэша в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — итог одного запуска очистки.
type SweepResult struct {
	// Deleted — количество удалённых файлов
	Deleted int `json:"deleted"`
	// Errors — количество файлов и каталогов, которые не удалось обработать
	Errors int `json:"errors"`
	// DirsRemoved — количество удалённых пустых каталогов
	DirsRemoved int `json:"dirs_removed"`
	// Cutoff — граница: удалены файлы с mtime раньше неё
	Cutoff time.Time `json:"cutoff"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"duration_ns"`
}

// RetentionSweeper — сервис очистки кэша по сроку хранения.
type RetentionSweeper struct {
	root      string
	retention time.Duration
	interval  time.Duration
	idx       *index.Index
	logger    *slog.Logger
	// now — источник времени, подменяется в тестах
	now func() time.Time

	mu        sync.Mutex // защита флага inProcess
	inProcess bool       // очистка выполняется
	cancel    context.CancelFunc
}

// NewRetentionSweeper создаёт сервис очистки корня кэша root.
// idx может быть nil (однократный запуск из CLI).
func NewRetentionSweeper(
	root string,
	retention time.Duration,
	interval time.Duration,
	idx *index.Index,
	logger *slog.Logger,
) *RetentionSweeper {
	return &RetentionSweeper{
		root:      root,
		retention: retention,
		interval:  interval,
		idx:       idx,
		logger:    logger.With(slog.String("component", "sweeper")),
		now:       time.Now,
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
func (rs *RetentionSweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(sweepCtx)

	rs.logger.Info("Очистка кэша запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("retention", rs.retention.String()),
	)
}

// Stop останавливает фоновую очистку.
func (rs *RetentionSweeper) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Очистка кэша остановлена")
}

// IsInProgress возвращает true, если очистка выполняется.
func (rs *RetentionSweeper) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *RetentionSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce()
		}
	}
}

// RunOnce выполняет одну очистку.
// Если очистка уже выполняется, возвращает nil, true.
func (rs *RetentionSweeper) RunOnce() (*SweepResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Очистка кэша уже выполняется, пропуск")
		sweepRunsTotal.WithLabelValues("skipped").Inc()
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	// Блокировка между процессами, делящими каталог кэша
	lock, acquired, err := derivstore.TryLockSweep(rs.root)
	switch {
	case err != nil:
		rs.logger.Debug("Блокировка очистки недоступна, продолжаем без неё",
			slog.String("error", err.Error()),
		)
	case !acquired:
		rs.logger.Info("Очистку кэша выполняет другой процесс, пропуск")
		sweepRunsTotal.WithLabelValues("locked").Inc()
		return nil, true
	default:
		defer lock.Unlock()
	}

	start := time.Now()
	result := &SweepResult{Cutoff: rs.now().Add(-rs.retention)}

	dirs := rs.deleteExpired(result)
	rs.pruneEmptyDirs(dirs, result)

	if rs.idx != nil {
		rs.idx.Sync(rs.root, derivstore.IsInternal)
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.WithLabelValues("completed").Inc()
	sweepFilesDeletedTotal.Add(float64(result.Deleted))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	rs.logger.Info("Очистка кэша завершена",
		slog.Int("deleted", result.Deleted),
		slog.Int("errors", result.Errors),
		slog.Int("dirs_removed", result.DirsRemoved),
		slog.Time("cutoff", result.Cutoff),
		slog.Duration("duration", result.Duration),
	)
	return result, false
}

// deleteExpired удаляет файлы старше cutoff и возвращает все каталоги
// под корнем (кроме самого корня).
func (rs *RetentionSweeper) deleteExpired(result *SweepResult) []string {
	var dirs []string

	err := filepath.WalkDir(rs.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if p == rs.root {
				return err
			}
			rs.logger.Warn("Ошибка обхода кэша",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			result.Errors++
			return nil
		}
		if d.IsDir() {
			if p != rs.root {
				dirs = append(dirs, p)
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == derivstore.LockFile {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				result.Errors++
			}
			return nil
		}
		if !info.ModTime().Before(result.Cutoff) {
			return nil
		}

		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rs.logger.Warn("Не удалось удалить запись кэша",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			result.Errors++
			return nil
		}
		result.Deleted++
		return nil
	})
	if err != nil {
		rs.logger.Error("Корень кэша недоступен",
			slog.String("root", rs.root),
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	return dirs
}

// pruneEmptyDirs удаляет пустые каталоги, начиная с самых глубоких.
// Каталог, в который успела попасть новая запись, остаётся.
func (rs *RetentionSweeper) pruneEmptyDirs(dirs []string, result *SweepResult) {
	sep := string(filepath.Separator)
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], sep) > strings.Count(dirs[j], sep)
	})

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				result.Errors++
			}
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(err) {
				rs.logger.Warn("Не удалось удалить пустой каталог",
					slog.String("path", dir),
					slog.String("error", err.Error()),
				)
				result.Errors++
			}
			continue
		}
		result.DirsRemoved++
	}
}

// isNotEmpty — каталог заполнился между проверкой и удалением.
func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}
