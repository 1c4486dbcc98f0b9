package service

import (
	"context"
	"log"
	"time"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

const clientCacheTTL = 10 * time.Minute

// JSONCache stores JSON values with a TTL
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedClients memoizes phone lookups. Only hits are cached, so a customer
// registered after their first message is found on the next one.
type CachedClients struct {
	next  ClientLookup
	cache JSONCache
}

func NewCachedClients(next ClientLookup, cache JSONCache) *CachedClients {
	return &CachedClients{next: next, cache: cache}
}

func (c *CachedClients) GetByPhone(ctx context.Context, phone string) (*domain.Client, error) {
	key := "client:phone:" + phone

	var cached domain.Client
	if ok, err := c.cache.GetJSON(ctx, key, &cached); err != nil {
		log.Printf("[Cache] Client lookup for %s failed: %v", phone, err)
	} else if ok {
		return &cached, nil
	}

	client, err := c.next.GetByPhone(ctx, phone)
	if err != nil || client == nil {
		return client, err
	}
	if err := c.cache.SetJSON(ctx, key, client, clientCacheTTL); err != nil {
		log.Printf("[Cache] Failed to cache client %s: %v", client.ID, err)
	}
	return client, nil
}
