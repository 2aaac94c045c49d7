package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(val, []byte("value1")) {
			t.Errorf("expected value1, got %s", val)
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		c := NewLRUCache(100)

		val, err := c.Get(ctx, tenantID, "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for missing key, got %s", val)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, tenantID, "short", []byte("v"), 10*time.Millisecond); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		time.Sleep(20 * time.Millisecond)

		val, err := c.Get(ctx, tenantID, "short")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected expired entry to be gone, got %s", val)
		}
	})

	t.Run("EvictsOldest", func(t *testing.T) {
		c := NewLRUCache(3)

		for i := 0; i < 4; i++ {
			key := fmt.Sprintf("key%d", i)
			if err := c.Set(ctx, tenantID, key, []byte(key), time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}

		size, capacity := c.Stats()
		if size != 3 || capacity != 3 {
			t.Errorf("expected size 3 capacity 3, got %d/%d", size, capacity)
		}

		// key0 is the oldest and should have been evicted
		val, _ := c.Get(ctx, tenantID, "key0")
		if val != nil {
			t.Error("expected key0 to be evicted")
		}
		val, _ = c.Get(ctx, tenantID, "key3")
		if val == nil {
			t.Error("expected key3 to survive")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c := NewLRUCache(100)

		_ = c.Set(ctx, tenantID, "key1", []byte("v"), time.Minute)
		if err := c.Delete(ctx, tenantID, "key1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := c.Get(ctx, tenantID, "key1")
		if val != nil {
			t.Error("expected key1 to be deleted")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		c := NewLRUCache(100)

		_ = c.Set(ctx, "tenant-001", "shared", []byte("a"), time.Minute)
		_ = c.Set(ctx, "tenant-002", "shared", []byte("b"), time.Minute)

		val, _ := c.Get(ctx, "tenant-001", "shared")
		if !bytes.Equal(val, []byte("a")) {
			t.Errorf("expected a, got %s", val)
		}
		val, _ = c.Get(ctx, "tenant-002", "shared")
		if !bytes.Equal(val, []byte("b")) {
			t.Errorf("expected b, got %s", val)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, "", "key", []byte("v"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID on Set")
		}
		if _, err := c.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID on Get")
		}
	})
}

func TestEvaluationCaching(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"
	c := NewLRUCache(100)

	eval := &domain.Evaluation{
		ID:   "eval-001",
		TxID: "tx-001",
		Risk: domain.RiskAssessment{
			Score: 9,
			Tier:  domain.TierHigh,
		},
		Classification: &domain.Classification{
			Label:            domain.LabelFraud,
			FraudProbability: 0.93,
		},
	}
	digest := "abc123"

	if err := c.SetEvaluation(ctx, tenantID, digest, eval, time.Minute); err != nil {
		t.Fatalf("SetEvaluation failed: %v", err)
	}

	got, err := c.GetEvaluation(ctx, tenantID, digest)
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached evaluation")
	}
	if got.ID != eval.ID || got.Risk.Score != 9 || got.Risk.Tier != domain.TierHigh {
		t.Errorf("unexpected evaluation: %+v", got)
	}
	if got.Classification == nil || got.Classification.Label != domain.LabelFraud {
		t.Errorf("unexpected classification: %+v", got.Classification)
	}

	miss, err := c.GetEvaluation(ctx, tenantID, "other-digest")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if miss != nil {
		t.Errorf("expected miss for unknown digest, got %+v", miss)
	}
}

func TestNewFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
		if err := c.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
