// pool.go — ограниченный пул обработчиков для блокирующих операций
// (файловый I/O, декодирование, масштабирование, кодирование).
//
// Вызывающий ждёт результата или отмены своего контекста. Задача,
// чей вызывающий перестал ждать, доводится до конца: публикация
// в кэш после ухода клиента допустима.
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

// Prometheus метрики пула
var (
	// poolInFlight — количество выполняемых задач.
	poolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "is_worker_pool_in_flight",
		Help: "Количество задач, выполняемых в пуле обработчиков",
	})

	// poolRejectedTotal — задачи, не дождавшиеся свободного обработчика.
	poolRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "is_worker_pool_rejected_total",
		Help: "Количество задач, не дождавшихся свободного обработчика",
	})
)

// Pool — пул обработчиков фиксированного размера на семафоре.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool создаёт пул на size одновременных задач.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size возвращает размер пула.
func (p *Pool) Size() int {
	return p.size
}

// Submit выполняет fn в пуле и ждёт результата. Если ctx отменён до
// захвата обработчика, возвращается ErrBusy. Если ctx отменён во время
// выполнения, Submit возвращает ErrBusy сразу, а fn продолжает работу.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		poolRejectedTotal.Inc()
		return zero, fmt.Errorf("%w: %w", model.ErrBusy, err)
	}

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)

	poolInFlight.Inc()
	go func() {
		defer func() {
			poolInFlight.Dec()
			p.sem.Release(1)
		}()
		val, err := fn()
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", model.ErrBusy, ctx.Err())
	}
}
