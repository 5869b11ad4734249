package goswcache_test

import (
	"context"
	"testing"

	goswcache "github.com/offlinekit/go-sw-cache"
)

func TestChannelDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	c := goswcache.NewChannel("swcache")

	first, cancelFirst := c.Subscribe()
	defer cancelFirst()
	second, cancelSecond := c.Subscribe()
	defer cancelSecond()

	if err := c.Post(context.Background(), goswcache.UpdateAvailable); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	for i, sub := range []<-chan string{first, second} {
		select {
		case msg := <-sub:
			if msg != goswcache.UpdateAvailable {
				t.Errorf("subscriber %d: expected %q, got %q", i, goswcache.UpdateAvailable, msg)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestChannelPostWithoutListeners(t *testing.T) {
	t.Parallel()

	c := goswcache.NewChannel("swcache")

	// fire-and-forget: no subscribers is not an error
	if err := c.Post(context.Background(), goswcache.UpdateAvailable); err != nil {
		t.Fatalf("post failed: %v", err)
	}
}

func TestChannelPostOnNilChannel(t *testing.T) {
	t.Parallel()

	// an unconfigured broadcast channel discards posts instead of panicking
	var c *goswcache.Channel
	if err := c.Post(context.Background(), goswcache.UpdateAvailable); err != nil {
		t.Fatalf("post on nil channel failed: %v", err)
	}
}

func TestChannelUnsubscribe(t *testing.T) {
	t.Parallel()

	c := goswcache.NewChannel("swcache")
	sub, cancel := c.Subscribe()

	cancel()

	if _, open := <-sub; open {
		t.Error("expected subscription channel to be closed after cancel")
	}

	// canceling twice is a no-op
	cancel()

	if err := c.Post(context.Background(), goswcache.UpdateAvailable); err != nil {
		t.Fatalf("post after unsubscribe failed: %v", err)
	}
}

func TestChannelDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	c := goswcache.NewChannel("swcache")
	sub, cancel := c.Subscribe()
	defer cancel()

	// overflow the subscriber buffer; Post must never block
	for i := 0; i < 64; i++ {
		if err := c.Post(context.Background(), goswcache.UpdateAvailable); err != nil {
			t.Fatalf("post %d failed: %v", i, err)
		}
	}

	drained := 0
	for {
		select {
		case <-sub:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 {
		t.Error("expected the subscriber to receive at least one message")
	}
}
