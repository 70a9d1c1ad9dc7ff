package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/pkg/metrics"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditService records API calls off the request path. Entries go to an
// in-memory ring for recent queries, then a background writer persists them
// to the repository and a rotated JSONL file.
type AuditService struct {
	logChan chan *model.AuditLog
	sink    io.WriteCloser
	buffer  *auditBuffer
	repo    AuditRepo

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, tenantID string, limit int, from, to *time.Time) ([]*model.AuditLog, error)
}

// NewAuditService starts the writer. An empty cfg.File disables the file sink.
func NewAuditService(cfg config.AuditConfig, repo AuditRepo) *AuditService {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 1000
	}
	svc := &AuditService{
		logChan: make(chan *model.AuditLog, queue),
		buffer:  newAuditBuffer(cfg.RingSize),
		repo:    repo,
	}
	if cfg.File != "" {
		svc.sink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	svc.wg.Add(1)
	go svc.processLogs()
	return svc
}

// Log never blocks. A full queue drops the entry from persistence but it stays
// visible in the ring.
func (s *AuditService) Log(entry *model.AuditLog) {
	if entry == nil {
		return
	}
	s.buffer.Add(entry)
	select {
	case s.logChan <- entry:
	default:
		metrics.AuditDropped.Inc()
		logger.Warn("audit queue full, dropping entry", "tenant_id", entry.TenantID, "path", entry.Path)
	}
}

// List prefers the repository and falls back to the ring when it is missing or failing.
func (s *AuditService) List(ctx context.Context, tenantID string, limit int, from, to *time.Time) ([]*model.AuditLog, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, tenantID, limit, from, to)
		if err == nil {
			return records, nil
		}
		logger.Warn("audit repository list failed, serving from memory", "error", err)
	}
	return s.buffer.List(tenantID, limit, from, to), nil
}

func (s *AuditService) processLogs() {
	defer s.wg.Done()
	var encoder *json.Encoder
	if s.sink != nil {
		encoder = json.NewEncoder(s.sink)
	}
	for entry := range s.logChan {
		if s.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.repo.Insert(ctx, entry); err != nil {
				logger.Error("failed to persist audit entry", "error", err, "id", entry.ID)
			}
			cancel()
		}
		if encoder != nil {
			if err := encoder.Encode(entry); err != nil {
				logger.Error("failed to write audit file", "error", err)
			}
		}
	}
}

// Close drains queued entries before returning.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		close(s.logChan)
		s.wg.Wait()
		if s.sink != nil {
			s.sink.Close()
		}
	})
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.AuditLog
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.AuditLog, 0, maxSize),
	}
}

func (b *auditBuffer) Add(entry *model.AuditLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List walks newest first.
func (b *auditBuffer) List(tenantID string, limit int, from, to *time.Time) []*model.AuditLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.AuditLog, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		if from != nil && entry.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && entry.CreatedAt.After(*to) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
