package transport

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func testResponse(status int, body string) *Response {
	return &Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       []byte(body),
	}
}

func TestResponseCache_GetPut(t *testing.T) {
	cache := newResponseCache(10, time.Minute)

	fp := fingerprint(http.MethodGet, "http://central/key", nil)
	cache.put(fp, testResponse(200, "public-key"))

	resp, ok := cache.get(fp)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if resp.StatusCode != 200 || string(resp.Body) != "public-key" {
		t.Fatalf("unexpected cached response: %d %q", resp.StatusCode, resp.Body)
	}

	// A different body digest must miss.
	_, ok = cache.get(fingerprint(http.MethodGet, "http://central/key", []byte("x")))
	if ok {
		t.Fatal("expected cache miss for different fingerprint")
	}
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	cache := newResponseCache(10, 50*time.Millisecond)

	fp := fingerprint(http.MethodGet, "http://central/key", nil)
	cache.put(fp, testResponse(200, "v"))

	if _, ok := cache.get(fp); !ok {
		t.Fatal("expected hit before TTL")
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok := cache.get(fp); ok {
		t.Fatal("entry older than TTL must never be returned")
	}
}

func TestResponseCache_CapacityEvictsOldest(t *testing.T) {
	cache := newResponseCache(3, time.Minute)

	fps := make([]string, 5)
	for i := range fps {
		fps[i] = fingerprint(http.MethodGet, fmt.Sprintf("http://central/%d", i), nil)
		cache.put(fps[i], testResponse(200, fmt.Sprintf("v%d", i)))
	}

	// Oldest insertions (0, 1) must be gone; newest three retained.
	for i := 0; i < 2; i++ {
		if _, ok := cache.get(fps[i]); ok {
			t.Fatalf("entry %d should have been evicted", i)
		}
	}
	for i := 2; i < 5; i++ {
		if _, ok := cache.get(fps[i]); !ok {
			t.Fatalf("entry %d should have been retained", i)
		}
	}

	stats := cache.Stats()
	if stats.Items != 3 {
		t.Fatalf("expected 3 items, got %d", stats.Items)
	}
	if stats.Evictions != 2 {
		t.Fatalf("expected 2 evictions, got %d", stats.Evictions)
	}
}

func TestResponseCache_CopiesAreIndependent(t *testing.T) {
	cache := newResponseCache(10, time.Minute)

	fp := fingerprint(http.MethodPost, "http://central/reports", []byte("body"))
	cache.put(fp, testResponse(201, "stored"))

	first, _ := cache.get(fp)
	first.Body[0] = 'X'

	second, ok := cache.get(fp)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(second.Body) != "stored" {
		t.Fatal("mutating a returned body corrupted the cached entry")
	}
}
