package ledger

import (
	"errors"
	"sync"
	"testing"
)

// staticSource serves a fixed recognized set.
type staticSource struct {
	authorities []Authority
	err         error
}

func (s staticSource) RecognizedAuthorities() ([]Authority, error) {
	return s.authorities, s.err
}

func trusted(name string, version uint64) Authority {
	a := NewHashOnlyAuthority(content(name))
	a.Version = version
	a.Recognized = true
	return a
}

func TestCacheLoadReplaces(t *testing.T) {
	c := NewAuthorityCache()
	c.Upsert(trusted("stale", 1))

	err := c.Load(staticSource{authorities: []Authority{trusted("a", 2), trusted("b", 0)}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}

	if c.Contains(content("stale")) {
		t.Error("load kept an entry missing from the source")
	}

	if a, ok := c.Get(content("a")); !ok || a.Version != 2 {
		t.Errorf("a = %+v, %v", a, ok)
	}
}

func TestCacheLoadErrorKeepsContent(t *testing.T) {
	c := NewAuthorityCache()
	c.Upsert(trusted("kept", 1))

	boom := errors.New("boom")
	if err := c.Load(staticSource{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	if !c.Contains(content("kept")) {
		t.Error("failed load cleared the cache")
	}
}

func TestCacheUpdateVersionIfPresent(t *testing.T) {
	c := NewAuthorityCache()
	h := content("a")

	if c.UpdateVersionIfPresent(h, 3) {
		t.Error("update reported success for an absent entry")
	}

	if c.Contains(h) {
		t.Error("update created an entry")
	}

	c.Upsert(trusted("a", 1))

	if !c.UpdateVersionIfPresent(h, 4) {
		t.Error("update reported failure for a cached entry")
	}

	c.UpdateVersionIfPresent(h, 2)

	if a, _ := c.Get(h); a.Version != 4 {
		t.Errorf("version = %d, want 4", a.Version)
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	c := NewAuthorityCache()
	c.Upsert(trusted("a", 1))

	a, _ := c.Get(content("a"))
	a.Version = 99

	if got, _ := c.Get(content("a")); got.Version != 1 {
		t.Error("mutating a returned value changed the cache")
	}
}

func TestCacheRemoveAndList(t *testing.T) {
	c := NewAuthorityCache()
	for _, n := range []string{"a", "b", "c"} {
		c.Upsert(trusted(n, 0))
	}

	c.Remove(content("b"))
	c.Remove(content("missing"))

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("list = %d entries", len(list))
	}

	for i := 1; i < len(list); i++ {
		if string(list[i-1].Hash[:]) >= string(list[i].Hash[:]) {
			t.Error("list not ordered by hash")
		}
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewAuthorityCache()
	h := content("hot")
	c.Upsert(trusted("hot", 0))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)

		go func(base uint64) {
			defer wg.Done()
			for v := uint64(1); v <= 200; v++ {
				c.UpdateVersionIfPresent(h, base+v)
			}
		}(uint64(w))

		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < 200; i++ {
				a, ok := c.Get(h)
				if !ok {
					t.Error("entry vanished")
					return
				}
				if a.Version < last {
					t.Errorf("observed version going back: %d < %d", a.Version, last)
					return
				}
				last = a.Version
			}
		}()
	}

	wg.Wait()

	if a, _ := c.Get(h); a.Version != 207 {
		t.Errorf("final version = %d, want 207", a.Version)
	}
}
