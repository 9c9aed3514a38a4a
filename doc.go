// Package rhi provides a rendering hardware interface for Go.
//
// # Overview
//
// rhi presents one uniform object model — devices, buffers, shader programs,
// pipelines, shader objects — over pluggable native backends. The heart of
// the library is the shader object specialization and pipeline caching
// subsystem: dynamically bound, interface-typed shader parameters are
// resolved at bind time into concrete, backend-compiled pipeline variants,
// cached by structural key so that each distinct specialization is compiled
// at most once.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/rhi"
//	    "github.com/gogpu/rhi/refl"
//
//	    _ "github.com/gogpu/rhi/backend/software" // register a backend
//	)
//
//	session := refl.NewStaticSession()
//	// ... register shader types with the session ...
//
//	device, err := rhi.NewDevice(&rhi.DeviceDesc{Session: session})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer device.Release()
//
//	// Build a shader object tree mirroring the shader's parameter block,
//	// bind concrete values, finalize, then resolve a concrete pipeline.
//	root, _ := device.CreateShaderObject(sceneType)
//	root.SetObject(materialOffset, material)
//	root.Finalize()
//	concrete, _ := device.ConcretePipeline(pipeline, root)
//
// # Backends
//
// Backends register themselves via blank import, following the same pattern
// as the rest of the GoGPU ecosystem:
//
//   - rhi/backend/wgpu: WebGPU-family native backend (Vulkan, Metal, DX12)
//     built on github.com/gogpu/wgpu, compiling WGSL kernels with
//     github.com/gogpu/naga.
//   - rhi/backend/software: in-process backend with deterministic fake
//     pipelines, for tests and headless tooling.
//
// # Concurrency
//
// A Device and everything created from it follow a single-threaded execution
// model: the specialization caches are plain maps with no internal locking,
// and callers must serialize access to a given device. Distinct devices are
// independent. The kernel cache (see KernelCache) is the one collaborator
// shared across devices and is safe for concurrent use.
package rhi
