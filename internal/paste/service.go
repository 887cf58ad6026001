// Package paste owns the paste lifecycle: submission, retrieval with
// expiry and single-view enforcement, and background reclamation.
package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clibin/internal/id"
	"clibin/internal/metrics"
	"clibin/internal/policy"
	"clibin/internal/record"
	"clibin/internal/storage"
)

const (
	// DefaultMaxSize is the content cap when Config.MaxSize is unset.
	DefaultMaxSize = 100 * 1024

	defaultIDAttempts = 5
)

// Config captures service configuration.
type Config struct {
	Generator  *id.Generator
	MaxSize    int
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	IDAttempts int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Options tune a single submission.
type Options struct {
	TTL     policy.TTL
	Onetime bool
	// MaxSize lowers the service cap for this call when positive.
	MaxSize int
}

// Paste is a record as handed to callers.
type Paste struct {
	ID        string
	Content   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	Onetime   bool
}

// Service coordinates the id generator, codec, policy and store.
type Service struct {
	store      storage.Store
	gen        *id.Generator
	maxSize    int
	defaultTTL time.Duration
	maxTTL     time.Duration
	attempts   int
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a Service over store.
func NewService(store storage.Store, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Generator == nil {
		cfg.Generator = id.New(0)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.IDAttempts <= 0 {
		cfg.IDAttempts = defaultIDAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      store,
		gen:        cfg.Generator,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		maxTTL:     cfg.MaxTTL,
		attempts:   cfg.IDAttempts,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// MaxSize returns the service-wide content cap in bytes.
func (s *Service) MaxSize() int { return s.maxSize }

// Submit stores content and returns its new id.
func (s *Service) Submit(ctx context.Context, content []byte, opts Options) (string, error) {
	limit := s.maxSize
	if opts.MaxSize > 0 && opts.MaxSize < limit {
		limit = opts.MaxSize
	}
	if len(content) == 0 {
		return "", fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if len(content) > limit {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(content), limit)
	}
	ttl, err := policy.Resolve(opts.TTL, s.defaultTTL, s.maxTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	now := s.now().UTC()
	blob, err := record.Encode(record.Record{
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Onetime:   opts.Onetime,
	})
	if err != nil {
		return "", fmt.Errorf("encode paste: %w", err)
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		pid, err := s.gen.Generate(ctx)
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		err = s.store.Create(ctx, pid, blob)
		if err == nil {
			metrics.PasteCreated.Inc()
			s.logger.Debug("paste created", "id", pid, "size", len(content), "ttl", ttl, "onetime", opts.Onetime)
			return pid, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return "", fmt.Errorf("store paste: %w", err)
		}
		metrics.IDCollisions.Inc()
		s.logger.Warn("paste id collision", "id", pid, "attempt", attempt+1)
	}
	return "", ErrIDExhausted
}

// Retrieve returns the paste stored under pid. Expired and corrupt records
// are removed and reported as ErrNotFound. A onetime paste is removed
// before it is returned; a caller that loses that removal to a concurrent
// reader gets ErrNotFound.
func (s *Service) Retrieve(ctx context.Context, pid string) (Paste, error) {
	rec, err := s.load(ctx, pid)
	if err != nil {
		return Paste{}, err
	}
	p := Paste{
		ID:        pid,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Onetime:   rec.Onetime,
	}
	if policy.ShouldDeleteAfterServe(rec) {
		if err := s.store.Delete(ctx, pid); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				metrics.PasteMissed.Inc()
				return Paste{}, ErrNotFound
			}
			return Paste{}, fmt.Errorf("consume onetime paste: %w", err)
		}
		metrics.PasteEvicted.WithLabelValues(metrics.ReasonConsumed, "retrieve").Inc()
	}
	metrics.PasteRetrieved.Inc()
	return p, nil
}

// Lookup reports a paste's metadata without consuming it. Content is not
// returned.
func (s *Service) Lookup(ctx context.Context, pid string) (Paste, error) {
	rec, err := s.load(ctx, pid)
	if err != nil {
		return Paste{}, err
	}
	return Paste{
		ID:        pid,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Onetime:   rec.Onetime,
	}, nil
}

func (s *Service) load(ctx context.Context, pid string) (record.Record, error) {
	if !id.Valid(pid) {
		return record.Record{}, fmt.Errorf("%w: malformed id", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	blob, err := s.store.Read(ctx, pid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.PasteMissed.Inc()
			return record.Record{}, ErrNotFound
		}
		return record.Record{}, fmt.Errorf("read paste: %w", err)
	}
	rec, err := record.Decode(blob)
	if err != nil {
		s.logger.Warn("corrupt paste record", "id", pid, "error", err)
		s.evict(ctx, pid, metrics.ReasonCorrupt)
		return record.Record{}, ErrNotFound
	}
	if policy.IsExpired(rec, s.now()) {
		s.evict(ctx, pid, metrics.ReasonExpired)
		return record.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *Service) evict(ctx context.Context, pid, reason string) {
	metrics.PasteMissed.Inc()
	if err := s.store.Delete(ctx, pid); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("evict paste", "id", pid, "reason", reason, "error", err)
		}
		return
	}
	metrics.PasteEvicted.WithLabelValues(reason, "retrieve").Inc()
	s.logger.Debug("paste evicted on read", "id", pid, "reason", reason)
}
