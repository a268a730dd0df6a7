// images.go — сервис изображений: загрузка оригиналов, отдача
// оригиналов и производных через двухуровневый кэш, каскадное удаление.
//
// Протокол отдачи производной:
//  1. Ключ по запрошенной трансформации → поиск в памяти, затем на диске
//  2. Промах → проверка и чтение оригинала, размеры из заголовка,
//     эффективная трансформация
//  3. Ключ эффективной трансформации, если отличается → повторный поиск
//  4. Промах → генерация и публикация; одновременные промахи
//     одного ключа обслуживаются одной генерацией
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
	"github.com/bigkaa/goartstore/image-server/internal/imaging"
	"github.com/bigkaa/goartstore/image-server/internal/storage/cachekey"
	"github.com/bigkaa/goartstore/image-server/internal/storage/derivstore"
	"github.com/bigkaa/goartstore/image-server/internal/storage/filestore"
	"github.com/bigkaa/goartstore/image-server/internal/storage/index"
	"github.com/bigkaa/goartstore/image-server/internal/storage/pathguard"
)

// Источник ответа Serve.
const (
	SourceOriginal  = "original"
	SourceMemory    = "memory"
	SourceDisk      = "disk"
	SourceGenerated = "generated"
)

// Prometheus метрики сервиса изображений
var (
	// cacheLookupsTotal — результаты поиска в кэше по уровням.
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "is_cache_lookups_total",
		Help: "Количество поисков в кэше производных по уровню и результату",
	}, []string{"tier", "result"})

	// derivativesGeneratedTotal — количество сгенерированных производных.
	derivativesGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "is_derivatives_generated_total",
		Help: "Количество сгенерированных производных изображений",
	}, []string{"format"})

	// generationDurationSeconds — длительность генерации производной.
	generationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "is_generation_duration_seconds",
		Help:    "Длительность генерации производного изображения в секундах",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// publishFailuresTotal — неудачные публикации в дисковый кэш.
	publishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "is_cache_publish_failures_total",
		Help: "Количество неудачных публикаций в дисковый кэш",
	})

	// uploadsTotal — загрузки оригиналов по результату.
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "is_uploads_total",
		Help: "Количество загрузок оригиналов по результату",
	}, []string{"result"})

	// purgedEntriesTotal — записи кэша, удалённые каскадно.
	purgedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "is_cache_purged_entries_total",
		Help: "Количество записей кэша, удалённых при удалении оригиналов",
	})
)

// UploadParams — параметры загрузки оригинала.
type UploadParams struct {
	// Reader — содержимое файла
	Reader io.Reader
	// Filename — объявленное имя файла (источник расширения)
	Filename string
	// Size — объявленный размер, filestore.SizeUnknown если неизвестен
	Size int64
	// Folder — целевой каталог относительно корня загрузок
	Folder string
}

// ServeResult — результат Serve.
type ServeResult struct {
	Data []byte
	// Format — выходной формат; пуст при отдаче оригинала
	Format      model.Format
	ContentType string
	// Source — откуда взят ответ (SourceOriginal, SourceMemory, ...)
	Source string
}

// ImageService — фасад движка изображений.
type ImageService struct {
	originals *filestore.FileStore
	cache     *derivstore.Store
	mem       *MemCache
	idx       *index.Index
	gen       *imaging.Generator
	pool      *Pool
	group     singleflight.Group

	maxDimension    int
	maxSourcePixels int64
	logger          *slog.Logger
}

// NewImageService создаёт сервис изображений.
// maxSourcePixels ограничивает ширина×высота оригинала, который разрешено декодировать.
func NewImageService(
	originals *filestore.FileStore,
	cache *derivstore.Store,
	mem *MemCache,
	idx *index.Index,
	gen *imaging.Generator,
	pool *Pool,
	maxDimension int,
	maxSourcePixels int64,
	logger *slog.Logger,
) *ImageService {
	return &ImageService{
		originals:       originals,
		cache:           cache,
		mem:             mem,
		idx:             idx,
		gen:             gen,
		pool:            pool,
		maxDimension:    maxDimension,
		maxSourcePixels: maxSourcePixels,
		logger:          logger.With(slog.String("component", "images")),
	}
}

// Upload сохраняет оригинал и возвращает его относительный путь.
func (s *ImageService) Upload(ctx context.Context, p UploadParams) (string, error) {
	rel, err := Submit(ctx, s.pool, func() (string, error) {
		return s.originals.Put(p.Reader, p.Filename, p.Size, p.Folder)
	})
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	uploadsTotal.WithLabelValues("stored").Inc()
	s.logger.Debug("Оригинал сохранён",
		slog.String("path", rel),
		slog.String("filename", p.Filename),
	)
	return rel, nil
}

// Serve отдаёт оригинал (spec == nil) или производную.
func (s *ImageService) Serve(ctx context.Context, relPath string, spec *model.TransformSpec) (*ServeResult, error) {
	if spec == nil {
		return s.serveOriginal(ctx, relPath)
	}

	requested := spec.Normalize()
	if err := requested.Validate(s.maxDimension); err != nil {
		return nil, err
	}
	// Ключ строится по нормализованному пути: "a//b.jpg" и "a/b.jpg" — одна запись
	_, cleaned, err := s.originals.Guard().Resolve(relPath)
	if err != nil {
		return nil, err
	}

	pr, err := Submit(ctx, s.pool, func() (*probe, error) {
		return s.probe(cleaned, requested)
	})
	if err != nil {
		return nil, err
	}
	if pr.hit != nil {
		return pr.hit, nil
	}

	// Генерация вне задачи probe: вложенный захват пула при размере 1
	// привёл бы к взаимной блокировке.
	genCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(pr.effRel, func() (any, error) {
		return Submit(genCtx, s.pool, func() ([]byte, error) {
			return s.generate(cleaned, pr.effRel, pr.src, pr.effective)
		})
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		if pr.reqRel != pr.effRel {
			s.mem.Set(pr.reqRel, data)
		}
		if res.Shared {
			s.logger.Debug("Генерация разделена между запросами", slog.String("key", pr.effRel))
		}
		return &ServeResult{
			Data:        data,
			Format:      pr.effective.Format,
			ContentType: pr.effective.Format.ContentType(),
			Source:      SourceGenerated,
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", model.ErrBusy, ctx.Err())
	}
}

// probe — результат первой фазы Serve: попадание или подготовленная генерация.
type probe struct {
	hit       *ServeResult
	reqRel    string
	effRel    string
	effective model.TransformSpec
	src       []byte
}

// probe выполняет шаги 1-3 протокола отдачи.
func (s *ImageService) probe(cleaned string, requested model.TransformSpec) (*probe, error) {
	reqRel := cachekey.RelPath(cleaned, requested)
	if hit := s.lookup(reqRel, requested.Format); hit != nil {
		return &probe{hit: hit}, nil
	}

	src, err := s.originals.Read(cleaned)
	if err != nil {
		return nil, err
	}
	srcW, srcH, err := s.gen.Dimensions(src)
	if err != nil {
		return nil, err
	}
	// Размеры из заголовка проверяются до декодирования: буфер пикселей
	// выделяется по ним, а не по размеру файла
	if int64(srcW)*int64(srcH) > s.maxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d превышает предел %d пикселей",
			model.ErrUnsupportedSourceFormat, srcW, srcH, s.maxSourcePixels)
	}
	effective := requested.Effective(srcW, srcH)

	effRel := reqRel
	if effective != requested {
		effRel = cachekey.RelPath(cleaned, effective)
		if hit := s.lookup(effRel, effective.Format); hit != nil {
			s.mem.Set(reqRel, hit.Data)
			return &probe{hit: hit}, nil
		}
	}

	return &probe{reqRel: reqRel, effRel: effRel, effective: effective, src: src}, nil
}

// lookup ищет запись в памяти, затем на диске. Ошибка чтения диска
// трактуется как промах.
func (s *ImageService) lookup(rel string, format model.Format) *ServeResult {
	if data, ok := s.mem.Get(rel); ok {
		cacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
		return &ServeResult{Data: data, Format: format, ContentType: format.ContentType(), Source: SourceMemory}
	}
	if s.mem.Enabled() {
		cacheLookupsTotal.WithLabelValues("memory", "miss").Inc()
	}

	data, ok, err := s.cache.Lookup(rel)
	if err != nil {
		s.logger.Warn("Ошибка чтения кэша, считаем промахом",
			slog.String("key", rel),
			slog.String("error", err.Error()),
		)
	}
	if !ok {
		cacheLookupsTotal.WithLabelValues("disk", "miss").Inc()
		return nil
	}
	cacheLookupsTotal.WithLabelValues("disk", "hit").Inc()
	s.mem.Set(rel, data)
	return &ServeResult{Data: data, Format: format, ContentType: format.ContentType(), Source: SourceDisk}
}

// generate создаёт производную и публикует её. Ошибка публикации
// не прерывает запрос: байты возвращаются вызывающему.
func (s *ImageService) generate(cleaned, effRel string, src []byte, effective model.TransformSpec) ([]byte, error) {
	// Запись могла появиться, пока запрос ждал обработчика
	if data, ok, _ := s.cache.Lookup(effRel); ok {
		s.mem.Set(effRel, data)
		return data, nil
	}

	start := time.Now()
	res, err := s.gen.Generate(src, effective)
	if err != nil {
		return nil, err
	}
	generationDurationSeconds.Observe(time.Since(start).Seconds())
	derivativesGeneratedTotal.WithLabelValues(string(effective.Format)).Inc()

	if err := s.cache.Publish(effRel, res.Data); err != nil {
		publishFailuresTotal.Inc()
		s.logger.Error("Не удалось опубликовать производную в кэш",
			slog.String("key", effRel),
			slog.String("error", err.Error()),
		)
	} else {
		s.idx.Add(effRel, int64(len(res.Data)), time.Now())
	}
	s.mem.Set(effRel, res.Data)

	s.logger.Debug("Производная сгенерирована",
		slog.String("source", cleaned),
		slog.String("transform", effective.String()),
		slog.Int("width", res.Width),
		slog.Int("height", res.Height),
		slog.Int("bytes", len(res.Data)),
		slog.Duration("duration", time.Since(start)),
	)
	return res.Data, nil
}

// serveOriginal отдаёт оригинал без трансформации; тип — по расширению.
func (s *ImageService) serveOriginal(ctx context.Context, relPath string) (*ServeResult, error) {
	data, err := Submit(ctx, s.pool, func() ([]byte, error) {
		return s.originals.Read(relPath)
	})
	if err != nil {
		return nil, err
	}
	return &ServeResult{
		Data:        data,
		ContentType: model.ContentTypeByExt(path.Ext(relPath)),
		Source:      SourceOriginal,
	}, nil
}

// Delete удаляет оригинал и все его производные. Сбои очистки кэша
// только логируются: оригинал уже удалён.
func (s *ImageService) Delete(ctx context.Context, relPath string) error {
	cleaned, err := pathguard.Clean(relPath)
	if err != nil {
		return err
	}

	_, err = Submit(ctx, s.pool, func() (struct{}, error) {
		if err := s.originals.Delete(cleaned); err != nil {
			return struct{}{}, err
		}
		s.purge(cleaned)
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Оригинал удалён", slog.String("path", cleaned))
	return nil
}

// purge удаляет производные оригинала из всех уровней кэша.
func (s *ImageService) purge(cleaned string) {
	prefix := cachekey.Prefix(cleaned)
	dir := cachekey.Dir(cleaned)

	res, err := s.cache.PurgeByPrefix(cleaned)
	if err != nil {
		s.logger.Error("Ошибка очистки кэша при удалении",
			slog.String("path", cleaned),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, rel := range res.Removed {
		s.idx.Remove(rel)
	}
	// Записи индекса без файла на диске (например, после ручной очистки)
	for _, rel := range s.idx.ByPrefix(dir, func(name string) bool { return cachekey.Matches(name, prefix) }) {
		s.idx.Remove(rel)
	}
	memRemoved := s.mem.DeleteMatching(func(rel string) bool {
		d, name := path.Split(rel)
		return strings.TrimSuffix(d, "/") == dir && cachekey.Matches(name, prefix)
	})
	purgedEntriesTotal.Add(float64(len(res.Removed)))

	if res.Failed > 0 {
		s.logger.Warn("Не все производные удалены",
			slog.String("path", cleaned),
			slog.Int("removed", len(res.Removed)),
			slog.Int("failed", res.Failed),
		)
		return
	}
	s.logger.Debug("Производные удалены",
		slog.String("path", cleaned),
		slog.Int("removed", len(res.Removed)),
		slog.Int("memory_removed", memRemoved),
	)
}
