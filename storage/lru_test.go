package storage

import "testing"

func TestPageCacheEvictsCleanBeforeDirty(t *testing.T) {
	c := newPageCache(2 * PageSize) // capacity: 2 pages

	c.putClean(1, NewPage(PageTypeData, 1))
	c.putDirty(2, NewPage(PageTypeData, 2))
	c.putClean(3, NewPage(PageTypeData, 3)) // should evict page 1 (clean, LRU), not page 2 (dirty)

	if _, ok := c.get(2); !ok {
		t.Fatal("dirty page 2 must survive eviction pressure")
	}
	if _, ok := c.get(3); !ok {
		t.Fatal("page 3 should be present")
	}
}

func TestPageCacheHitRate(t *testing.T) {
	c := newPageCache(DefaultCacheLimit)
	c.putClean(1, NewPage(PageTypeData, 1))

	c.get(1)
	c.get(99)

	hits, misses, _, _ := c.stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit/1 miss, got hits=%d misses=%d", hits, misses)
	}
	if rate := c.hitRate(); rate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", rate)
	}
}

func TestPageCacheExtendPagesTracksAllocationsNotHits(t *testing.T) {
	c := newPageCache(DefaultCacheLimit)
	c.putClean(1, NewPage(PageTypeData, 1))
	c.putClean(1, NewPage(PageTypeData, 1)) // refresh, not a new allocation
	c.putClean(2, NewPage(PageTypeData, 2))

	if got := c.extendPageCount(); got != 2 {
		t.Fatalf("expected extendPages=2, got %d", got)
	}
}

func TestPageCacheInvalidateAndClear(t *testing.T) {
	c := newPageCache(DefaultCacheLimit)
	c.putClean(1, NewPage(PageTypeData, 1))
	c.invalidate(1)
	if _, ok := c.get(1); ok {
		t.Fatal("page should be gone after invalidate")
	}

	c.putClean(2, NewPage(PageTypeData, 2))
	c.clear()
	if _, ok := c.get(2); ok {
		t.Fatal("page should be gone after clear")
	}
}
