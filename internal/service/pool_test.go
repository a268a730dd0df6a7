package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/image-server/internal/domain/model"
)

func TestPool_ReturnsResult(t *testing.T) {
	p := NewPool(2)

	v, err := Submit(context.Background(), p, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("ожидалось 42, получено %d (%v)", v, err)
	}

	wantErr := errors.New("boom")
	if _, err := Submit(context.Background(), p, func() (int, error) { return 0, wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("ожидалась исходная ошибка, получено %v", err)
	}
}

// TestPool_Bounded — одновременно выполняется не больше size задач.
func TestPool_Bounded(t *testing.T) {
	const size = 3
	p := NewPool(size)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Submit(context.Background(), p, func() (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > size {
		t.Errorf("пиковая параллельность %d превышает размер пула %d", peak.Load(), size)
	}
}

// TestPool_CallerGivesUp — вызывающий уходит по контексту, задача
// доводится до конца.
func TestPool_CallerGivesUp(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Submit(ctx, p, func() (struct{}, error) {
		<-release
		close(finished)
		return struct{}{}, nil
	})
	if !errors.Is(err, model.ErrBusy) || !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась ErrBusy с context.Canceled, получено %v", err)
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("задача должна завершиться после ухода вызывающего")
	}
}

func TestPool_AcquireTimeout(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	defer close(block)

	go Submit(context.Background(), p, func() (struct{}, error) {
		<-block
		return struct{}{}, nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Submit(ctx, p, func() (struct{}, error) { return struct{}{}, nil })
	if !errors.Is(err, model.ErrBusy) {
		t.Errorf("ожидалась ErrBusy, получено %v", err)
	}
}
