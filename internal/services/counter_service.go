package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

var (
	// ErrCounterExhausted indicates a sequence reached the largest number its format can render.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const (
	defaultOrderPrefix = "ORD"
	returnNumberPrefix = "RET"
	// returnNumberDigits fixes the width of the monthly return sequence.
	returnNumberDigits = 5
	returnNumberMax    = 99999
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	mu      sync.Mutex
	bounded map[string]struct{}
}

// NewCounterService constructs the allocator for order and return numbers.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		bounded: make(map[string]struct{}),
	}, nil
}

// OrderSequence returns the per-day counter that Place increments inside the order transaction.
// Order numbers render as <prefix>-<YYMMDD>-<seq:4>.
func (s *counterService) OrderSequence(now time.Time, prefix string) repositories.OrderSequence {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultOrderPrefix
	}
	day := now.Format("060102")
	return repositories.OrderSequence{
		CounterID: "orders:" + day,
		Format: func(seq int64) string {
			return fmt.Sprintf("%s-%s-%04d", prefix, day, seq)
		},
	}
}

// NextReturnNumber allocates RET-<YYYYMM>-<seq:5>. The monthly counter is capped so numbers keep
// their width; the cap is written once per counter and process.
func (s *counterService) NextReturnNumber(ctx context.Context) (string, error) {
	month := s.clock().Format("200601")
	counterID := "returns:" + month
	if err := s.boundOnce(ctx, counterID, returnNumberMax); err != nil {
		return "", err
	}

	value, err := s.repo.Next(ctx, counterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorExhausted {
			return "", fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
		return "", err
	}
	return fmt.Sprintf("%s-%s-%0*d", returnNumberPrefix, month, returnNumberDigits, value), nil
}

func (s *counterService) boundOnce(ctx context.Context, counterID string, maxValue int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bounded[counterID]; ok {
		return nil
	}
	if err := s.repo.Configure(ctx, counterID, repositories.CounterConfig{MaxValue: &maxValue}); err != nil {
		return fmt.Errorf("counter %s: configure: %w", counterID, err)
	}
	s.bounded[counterID] = struct{}{}
	return nil
}
