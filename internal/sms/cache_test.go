package sms

import (
	"fmt"
	"testing"
)

func TestClientCacheReuse(t *testing.T) {
	cache := NewClientCache(nil)
	a := cache.For(testCreds())
	b := cache.For(testCreds())
	if a != b {
		t.Fatal("same credentials should share one sender")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", cache.Len())
	}
}

func TestClientCacheEvictsOldest(t *testing.T) {
	cache := NewClientCache(nil)
	first := cache.For(Credentials{AccountSID: "AC0", AuthToken: "t", From: "+15550000000"})
	for i := 1; i <= cacheCapacity; i++ {
		cache.For(Credentials{AccountSID: fmt.Sprintf("AC%d", i), AuthToken: "t", From: "+15550000000"})
	}
	if cache.Len() != cacheCapacity {
		t.Fatalf("cache should be bounded to %d, got %d", cacheCapacity, cache.Len())
	}
	if cache.For(Credentials{AccountSID: "AC0", AuthToken: "t", From: "+15550000000"}) == first {
		t.Fatal("oldest entry should have been evicted")
	}
}
