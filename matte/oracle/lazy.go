package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Loader 创建真正的推理后端，例如加载模型权重、建立会话
type Loader func(ctx context.Context) (Oracle, error)

// Lazy 是进程内共享的推理句柄。
// 第一次 Segment/Ready 时加载模型，并发的首次请求共享同一次加载；
// 加载成功后只读，之后的请求直接复用。加载失败不缓存，后续请求会重新尝试。
type Lazy struct {
	load  Loader
	group singleflight.Group
	loads atomic.Int64

	mu     sync.RWMutex
	loaded Oracle
	closed bool
}

func NewLazy(load Loader) *Lazy {
	return &Lazy{load: load}
}

// Shared wraps an already-loaded oracle so callers can treat it like a lazy one.
func Shared(o Oracle) *Lazy {
	l := &Lazy{load: func(context.Context) (Oracle, error) { return o, nil }}
	l.loaded = o
	return l
}

func (l *Lazy) Segment(ctx context.Context, t *Tensor) (*ProbabilityMap, error) {
	o, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return o.Segment(ctx, t)
}

// Ready 强制完成加载，并在后端支持时检查其就绪状态
func (l *Lazy) Ready(ctx context.Context) error {
	o, err := l.get(ctx)
	if err != nil {
		return err
	}
	if p, ok := o.(Prober); ok {
		return p.Ready(ctx)
	}
	return nil
}

// Loads returns how many times the loader has been invoked.
func (l *Lazy) Loads() int64 {
	return l.loads.Load()
}

func (l *Lazy) current() (Oracle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded, l.closed
}

func (l *Lazy) get(ctx context.Context) (Oracle, error) {
	if o, closed := l.current(); closed {
		return nil, fmt.Errorf("%w: closed", ErrUnavailable)
	} else if o != nil {
		return o, nil
	}

	v, err, shared := l.group.Do("load", func() (any, error) {
		if o, _ := l.current(); o != nil {
			return o, nil
		}
		l.loads.Add(1)
		o, err := l.load(ctx)
		if err != nil {
			if !errors.Is(err, ErrUnavailable) {
				err = fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			return nil, err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			closeOracle(o)
			return nil, fmt.Errorf("%w: closed", ErrUnavailable)
		}
		l.loaded = o
		slog.InfoContext(ctx, "oracle loaded", "loads", l.loads.Load())
		return o, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "oracle load failed", "error", err, "shared", shared)
		return nil, err
	}
	return v.(Oracle), nil
}

// Close 释放已加载的后端，之后的调用都会返回 ErrUnavailable
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	o := l.loaded
	l.loaded = nil
	return closeOracle(o)
}

func closeOracle(o Oracle) error {
	if c, ok := o.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
