package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// byteStore is the raw half of domain.Cache that run helpers are built on.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func getRun(ctx context.Context, s byteStore, tenantID, key string) (*domain.SamplingRun, error) {
	data, err := s.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}

	var run domain.SamplingRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode cached run %s: %w", key, err)
	}
	return &run, nil
}

func setRun(ctx context.Context, s byteStore, tenantID, key string, run *domain.SamplingRun, ttl time.Duration) error {
	if run == nil {
		return fmt.Errorf("%w: nil sampling run", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, key, data, ttl)
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}
