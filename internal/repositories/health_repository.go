package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks one backing dependency. A failing Required probe marks the
// whole report as error; optional ones (cache, queue) only degrade it.
type Probe struct {
	Name     string
	Required bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

type probeHealthRepository struct {
	probes []Probe
	now    func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository runs every probe concurrently on Collect.
func NewProbeHealthRepository(clock func() time.Time, probes ...Probe) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	cleaned := make([]Probe, 0, len(probes))
	for _, probe := range probes {
		probe.Name = strings.TrimSpace(probe.Name)
		if probe.Name == "" {
			return nil, errors.New("health repository: probe missing name")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("health repository: probe %s missing check", probe.Name)
		}
		if _, dup := seen[probe.Name]; dup {
			return nil, fmt.Errorf("health repository: duplicate probe %s", probe.Name)
		}
		seen[probe.Name] = struct{}{}
		if probe.Timeout <= 0 {
			probe.Timeout = defaultProbeTimeout
		}
		cleaned = append(cleaned, probe)
	}
	if clock == nil {
		clock = time.Now
	}
	return &probeHealthRepository{probes: cleaned, now: clock}, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	var (
		mu      sync.Mutex
		group   errgroup.Group
		results = make(map[string]domain.SystemHealthCheck, len(r.probes))
		status  = domain.HealthStatusOK
	)
	for _, probe := range r.probes {
		probe := probe
		group.Go(func() error {
			result := r.run(ctx, probe)
			mu.Lock()
			defer mu.Unlock()
			results[probe.Name] = result
			switch {
			case result.Status == domain.HealthStatusOK:
			case probe.Required:
				status = domain.HealthStatusError
			case status == domain.HealthStatusOK:
				status = domain.HealthStatusDegraded
			}
			return nil
		})
	}
	_ = group.Wait()

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.SystemHealthCheck {
	probeCtx, cancel := context.WithTimeout(ctx, probe.Timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	if err == nil {
		err = probeCtx.Err()
	}
	end := r.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil {
		return result
	}
	result.Error = err.Error()
	result.Detail = err.Error()
	result.Status = domain.HealthStatusDegraded
	if probe.Required {
		result.Status = domain.HealthStatusError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		result.Detail = "timeout"
	}
	return result
}
