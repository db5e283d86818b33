package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/qingrang/stream-rec/internal/model"
)

func TestNewKnownPlatforms(t *testing.T) {
	tests := []struct {
		platform model.Platform
	}{
		{model.PlatformHuya},
		{model.PlatformDouyin},
	}

	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			p, err := New(tt.platform)
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.platform, err)
			}
			if p == nil {
				t.Fatalf("New(%q) returned nil plugin", tt.platform)
			}
		})
	}
}

func TestNewUnknownPlatform(t *testing.T) {
	_, err := New(model.Platform("BILIBILI"))
	if err == nil {
		t.Fatal("expected error for unregistered platform")
	}
	var unknown *ErrUnknownPlatform
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *ErrUnknownPlatform, got %T", err)
	}
	if unknown.Platform != "BILIBILI" {
		t.Errorf("ErrUnknownPlatform.Platform = %q, want %q", unknown.Platform, "BILIBILI")
	}
}

func TestHuyaPluginStubsAreHonest(t *testing.T) {
	p := NewHuyaPlugin()
	b := &model.Broadcaster{ID: "alice", Platform: model.PlatformHuya}

	live, err := p.ShouldDownload(context.Background(), b)
	if err == nil {
		t.Fatal("expected ShouldDownload to fail with ErrNotImplemented")
	}
	if live {
		t.Error("ShouldDownload should report not-live alongside its error")
	}

	url, err := p.ResolveStreamURL(context.Background(), b)
	if err == nil {
		t.Fatal("expected ResolveStreamURL to fail with ErrNotImplemented")
	}
	if url != "" {
		t.Errorf("expected empty url, got %q", url)
	}
}

func TestDouyinPluginStubsAreHonest(t *testing.T) {
	p := NewDouyinPlugin()
	b := &model.Broadcaster{ID: "bob", Platform: model.PlatformDouyin}

	if _, err := p.ShouldDownload(context.Background(), b); err == nil {
		t.Fatal("expected ShouldDownload to fail with ErrNotImplemented")
	}
	if _, err := p.ResolveStreamURL(context.Background(), b); err == nil {
		t.Fatal("expected ResolveStreamURL to fail with ErrNotImplemented")
	}
}

func TestRegisterOverride(t *testing.T) {
	called := false
	Register(model.Platform("TEST"), func() Plugin {
		called = true
		return NewHuyaPlugin()
	})
	defer delete(registry, model.Platform("TEST"))

	if _, err := New(model.Platform("TEST")); err != nil {
		t.Fatalf("New() error after Register: %v", err)
	}
	if !called {
		t.Error("factory was not invoked")
	}
}
