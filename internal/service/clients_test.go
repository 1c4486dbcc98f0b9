package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

type mapCache struct {
	data   map[string][]byte
	getErr error
}

func (m *mapCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if m.getErr != nil {
		return false, m.getErr
	}
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *mapCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

type countingClients struct {
	client *domain.Client
	calls  int
}

func (c *countingClients) GetByPhone(ctx context.Context, phone string) (*domain.Client, error) {
	c.calls++
	return c.client, nil
}

func TestCachedClients_CachesHits(t *testing.T) {
	id := uuid.New()
	next := &countingClients{client: &domain.Client{ID: id, Name: "Maria", Credits: 7}}
	lookup := NewCachedClients(next, &mapCache{data: map[string][]byte{}})

	for i := 0; i < 3; i++ {
		c, err := lookup.GetByPhone(context.Background(), "5511987654321")
		if err != nil || c == nil || c.ID != id || c.Name != "Maria" {
			t.Fatalf("unexpected lookup %+v %v", c, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected a single store lookup, got %d", next.calls)
	}
}

func TestCachedClients_MissesAreNotCached(t *testing.T) {
	next := &countingClients{}
	lookup := NewCachedClients(next, &mapCache{data: map[string][]byte{}})

	lookup.GetByPhone(context.Background(), "5511900000000")
	lookup.GetByPhone(context.Background(), "5511900000000")
	if next.calls != 2 {
		t.Errorf("unknown numbers should always hit the store, got %d calls", next.calls)
	}
}

func TestCachedClients_CacheErrorFallsThrough(t *testing.T) {
	next := &countingClients{client: &domain.Client{ID: uuid.New()}}
	lookup := NewCachedClients(next, &mapCache{data: map[string][]byte{}, getErr: errors.New("redis down")})

	if c, err := lookup.GetByPhone(context.Background(), "5511987654321"); err != nil || c == nil {
		t.Fatalf("expected store result, got %+v %v", c, err)
	}
}
