package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesboard/internal/audit"
	"salesboard/internal/cache"
	"salesboard/internal/domain"
	"salesboard/internal/numbering"
	"salesboard/internal/realtime"
	"salesboard/internal/stages"
	"salesboard/internal/store"
	"salesboard/internal/validation"
	"salesboard/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// NumberingStrategy selects where automatic invoice numbers come from.
type NumberingStrategy string

const (
	// NumberingSequence increments a per-month counter row inside the
	// invoice write transaction.
	NumberingSequence NumberingStrategy = "sequence"
	// NumberingScan reads the greatest persisted number before the write.
	// Two concurrent creates in one month may pick the same number; the
	// loser gets store.ErrConflict.
	NumberingScan NumberingStrategy = "scan"
)

func ParseNumbering(raw string) (NumberingStrategy, error) {
	switch NumberingStrategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", NumberingSequence:
		return NumberingSequence, nil
	case NumberingScan:
		return NumberingScan, nil
	default:
		return "", fmt.Errorf("unknown invoice numbering strategy %q", raw)
	}
}

// ValidationError carries field path → failed rule and matches
// store.ErrInvalid under errors.Is.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Details))
	for field := range e.Details {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fmt.Sprintf("invalid request: %s", strings.Join(fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalid
}

func invalid(field string, rule string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: rule}}
}

type Options struct {
	Catalog           *stages.Catalog
	BoardCache        cache.BoardCache
	BoardCacheTTL     time.Duration
	Audit             audit.Sink
	Publisher         realtime.Publisher
	Logger            *slog.Logger
	InvoicePrefix     string
	Numbering         NumberingStrategy
	DefaultTaxPercent *decimal.Decimal
	InvoiceDueDays    int
	Now               func() time.Time
}

type Service struct {
	repo       store.Repository
	catalog    *stages.Catalog
	allocator  *numbering.Allocator
	validator  *validation.Validator
	boardCache cache.BoardCache
	cacheTTL   time.Duration
	audit      audit.Sink
	publisher  realtime.Publisher
	logger     *slog.Logger

	numbering  NumberingStrategy
	defaultTax decimal.Decimal
	dueDays    int
	now        func() time.Time
}

var defaultTaxPercent = decimal.NewFromInt(10)

func New(repo store.Repository, opts Options) *Service {
	if opts.Catalog == nil {
		opts.Catalog = stages.Default()
	}
	if opts.BoardCache == nil {
		opts.BoardCache = cache.NoopBoardCache{}
	}
	if opts.BoardCacheTTL <= 0 {
		opts.BoardCacheTTL = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogSink(opts.Logger)
	}
	if opts.Publisher == nil {
		opts.Publisher = realtime.NoopPublisher{}
	}
	if opts.Numbering == "" {
		opts.Numbering = NumberingSequence
	}
	tax := defaultTaxPercent
	if opts.DefaultTaxPercent != nil {
		tax = *opts.DefaultTaxPercent
	}
	if opts.InvoiceDueDays <= 0 {
		opts.InvoiceDueDays = 30
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:       repo,
		catalog:    opts.Catalog,
		allocator:  numbering.NewAllocator(repo, opts.InvoicePrefix),
		validator:  validation.New(),
		boardCache: opts.BoardCache,
		cacheTTL:   opts.BoardCacheTTL,
		audit:      opts.Audit,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		numbering:  opts.Numbering,
		defaultTax: tax,
		dueDays:    opts.InvoiceDueDays,
		now:        opts.Now,
	}
}

func (s *Service) Catalog() *stages.Catalog {
	return s.catalog
}

func (s *Service) validate(req interface{}) error {
	if err := s.validator.Struct(req); err != nil {
		if details := validation.Details(err); details != nil {
			return &ValidationError{Details: details}
		}
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	return nil
}

// afterBoardWrite keeps the cached board, the audit journal and live
// subscribers in step with a committed lead change. Failures here are
// logged only; the write itself already succeeded.
func (s *Service) afterBoardWrite(ctx context.Context, action string, entityType string, entityID string, leadID string, stage string, detail string) {
	if err := s.boardCache.Invalidate(ctx); err != nil {
		s.logger.Warn("board cache invalidate failed", slog.String("action", action), slog.String("error", err.Error()))
	}
	s.logAudit(ctx, action, entityType, entityID, detail)
	s.publisher.Publish(domain.BoardEvent{
		Action: action,
		LeadID: leadID,
		Stage:  stage,
		At:     s.now(),
	})
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.audit.Record(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("audit write failed",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.String("error", err.Error()),
		)
	}
}
