package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/wal"

	json "github.com/goccy/go-json"

	"accord"
	"accord/configs"
)

// WALLog is a durable accord.Log batched to disk on a ticker, the same
// shape as the teacher's LogManager in network/coordinator/log_manager.go:
// an in-memory wal.Batch absorbs writes under a mutex, and a background
// goroutine flushes it to a tidwall/wal log at a fixed interval rather than
// fsyncing every record.
type WALLog struct {
	mu     sync.Mutex
	lsn    uint64
	logs   *wal.Log
	buffer *wal.Batch

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWALLog(dir string) (*WALLog, error) {
	logs, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("accord/store: open wal at %s: %w", dir, err)
	}
	lsn, err := logs.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("accord/store: wal last index: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &WALLog{
		lsn:    lsn,
		logs:   logs,
		buffer: &wal.Batch{},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.sync(ctx, lsn)
	return l, nil
}

// Append enqueues rec into the pending batch; it does not block for disk.
func (l *WALLog) Append(rec accord.LogRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("accord/store: marshal log record: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lsn++
	l.buffer.Write(l.lsn, payload)
	return nil
}

func (l *WALLog) sync(ctx context.Context, initLSN uint64) {
	defer close(l.done)
	last := initLSN
	ticker := time.NewTicker(configs.LogBatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if l.lsn == last {
				l.mu.Unlock()
				continue
			}
			batch := l.buffer
			l.buffer = &wal.Batch{}
			flushed := l.lsn
			l.mu.Unlock()
			if err := l.logs.WriteBatch(batch); err != nil {
				configs.Warnf("store/wallog: write batch failed: %v", err)
				continue
			}
			last = flushed
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background flusher and waits for it to exit.
func (l *WALLog) Close() error {
	l.cancel()
	<-l.done
	return l.logs.Close()
}
