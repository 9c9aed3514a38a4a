package rhi

import (
	"slices"
	"testing"
)

func TestBackendRegistry(t *testing.T) {
	b := &fakeBackend{}
	RegisterBackend("test-backend", func() Backend { return b })
	defer UnregisterBackend("test-backend")

	if got := GetBackend("test-backend"); got != Backend(b) {
		t.Fatal("GetBackend did not return the registered backend")
	}
	if got := GetBackend("missing"); got != nil {
		t.Fatal("GetBackend returned a backend for an unknown name")
	}
	if !slices.Contains(AvailableBackends(), "test-backend") {
		t.Fatal("registered backend not listed")
	}

	UnregisterBackend("test-backend")
	if GetBackend("test-backend") != nil {
		t.Fatal("backend still resolvable after unregister")
	}
}

func TestDefaultBackendPriority(t *testing.T) {
	soft := &fakeBackend{}
	RegisterBackend(BackendSoftware, func() Backend { return soft })
	defer UnregisterBackend(BackendSoftware)

	if got := DefaultBackend(); got != Backend(soft) {
		t.Fatal("software backend not selected as fallback")
	}

	gpu := &fakeBackend{}
	RegisterBackend(BackendWGPU, func() Backend { return gpu })
	defer UnregisterBackend(BackendWGPU)

	if got := DefaultBackend(); got != Backend(gpu) {
		t.Fatal("wgpu backend not preferred over software")
	}
}
