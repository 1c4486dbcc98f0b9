package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New("redis://" + mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestFirstSeen(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	first, err := c.FirstSeen(ctx, "wa:msg:1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first delivery, got %v %v", first, err)
	}
	again, err := c.FirstSeen(ctx, "wa:msg:1", time.Hour)
	if err != nil || again {
		t.Fatalf("expected duplicate, got %v %v", again, err)
	}

	mr.FastForward(2 * time.Hour)
	afterTTL, _ := c.FirstSeen(ctx, "wa:msg:1", time.Hour)
	if !afterTTL {
		t.Error("key should expire after ttl")
	}
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var dst struct{ Name string }
	found, err := c.GetJSON(ctx, "client:missing", &dst)
	if err != nil || found {
		t.Fatalf("expected miss, got %v %v", found, err)
	}

	if err := c.SetJSON(ctx, "client:1", struct{ Name string }{"Maria"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	found, err = c.GetJSON(ctx, "client:1", &dst)
	if err != nil || !found || dst.Name != "Maria" {
		t.Fatalf("unexpected cached value %+v found=%v err=%v", dst, found, err)
	}
}

func TestGetMissIsNil(t *testing.T) {
	c, _ := newTestCache(t)
	data, err := c.Get(context.Background(), "nothing")
	if err != nil || data != nil {
		t.Fatalf("expected nil, nil on miss, got %v %v", data, err)
	}
}
