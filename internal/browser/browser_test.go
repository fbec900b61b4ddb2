package browser

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.NavigateTimeout != 30*time.Second {
		t.Fatalf("navigate timeout: got %v", m.cfg.NavigateTimeout)
	}
	if m.cfg.Logger == nil {
		t.Fatal("logger not defaulted")
	}
}

func TestOpenPage_NoBrowser(t *testing.T) {
	m := NewManager(Config{})
	if _, err := m.OpenPage(context.Background(), "about:blank"); err == nil {
		t.Fatal("open page without browser: expected error")
	}
}

func TestStart_Closed(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close: got %v, want ErrClosed", err)
	}
}

func TestProcessMemory_NotLocal(t *testing.T) {
	m := NewManager(Config{})
	if _, err := m.ProcessMemory(context.Background()); !errors.Is(err, ErrNotLocal) {
		t.Fatalf("process memory before start: got %v, want ErrNotLocal", err)
	}
}

func TestTreeRSS_Self(t *testing.T) {
	rss, err := TreeRSS(context.Background(), int32(os.Getpid()))
	if err != nil {
		t.Fatalf("tree rss: %v", err)
	}
	if rss == 0 {
		t.Fatal("tree rss of the test process: got 0")
	}
}

func TestTreeRSS_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := TreeRSS(ctx, int32(os.Getpid())); err == nil {
		t.Fatal("canceled walk: expected error")
	}
}
