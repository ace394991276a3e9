package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rvph10/old-saas-sub000/internal/kv"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRegistry(kv.New(rdb), 0), mr
}

func TestFingerprintStable(t *testing.T) {
	id1, os1, browser1 := Fingerprint(chromeUA)
	id2, _, _ := Fingerprint(chromeUA)
	if id1 != id2 {
		t.Fatal("same user agent must produce the same id")
	}
	if os1 != "windows" || browser1 != "chrome" {
		t.Fatalf("hints: os=%s browser=%s", os1, browser1)
	}

	id3, os3, browser3 := Fingerprint(firefoxUA)
	if id3 == id1 {
		t.Fatal("different user agents must produce different ids")
	}
	if os3 != "linux" || browser3 != "firefox" {
		t.Fatalf("hints: os=%s browser=%s", os3, browser3)
	}
}

func TestRegisterAndRepeatSighting(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	dev, err := r.Register(ctx, "user-1", chromeUA, "203.0.113.7")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if dev.FirstSeen.IsZero() || dev.Trusted {
		t.Fatalf("unexpected fresh record: %+v", dev)
	}

	if err := r.Trust(ctx, "user-1", dev.ID); err != nil {
		t.Fatalf("Trust: %v", err)
	}

	mr.FastForward(time.Hour)
	again, err := r.Register(ctx, "user-1", chromeUA, "203.0.113.8")
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if again.ID != dev.ID {
		t.Fatal("repeat sighting must reuse the device id")
	}
	if !again.Trusted {
		t.Fatal("trust must survive re-registration")
	}
	if !again.FirstSeen.Equal(dev.FirstSeen) {
		t.Fatal("firstSeen must not change on repeat sighting")
	}
}

func TestListForUser(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, "user-1", chromeUA, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(ctx, "user-1", firefoxUA, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(ctx, "user-2", chromeUA, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	devices, err := r.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("want 2 devices, got %d", len(devices))
	}
}

func TestGetAndForget(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	dev, err := r.Register(ctx, "user-1", chromeUA, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Get(ctx, "user-1", dev.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// records are scoped per user
	if _, err := r.Get(ctx, "user-2", dev.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user: want ErrNotFound, got %v", err)
	}

	if err := r.Forget(ctx, "user-1", dev.ID); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := r.Get(ctx, "user-1", dev.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("forgotten device: want ErrNotFound, got %v", err)
	}
	if err := r.Forget(ctx, "user-1", dev.ID); err != nil {
		t.Fatalf("second Forget: %v", err)
	}
}
