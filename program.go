package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/refl"
)

// ShaderProgramDesc describes a shader program to create.
type ShaderProgramDesc struct {
	// Program is the linked program from the reflection session.
	Program *refl.Program

	// Label names the program in logs and backend diagnostics. Defaults to
	// the linked program's name.
	Label string
}

// ShaderProgram wraps a linked reflection program together with its
// lazily compiled per-entry-point kernels.
//
// A program with unbound specialization parameters cannot be compiled; it
// can only serve as the base of a virtual pipeline, to be specialized later
// against a shader object tree.
type ShaderProgram struct {
	refCounted

	device BreakableRef[*Device]
	linked *refl.Program
	label  string

	kernels map[int][]byte // compiled entry-point kernels, by entry point index
}

func newShaderProgram(device *Device, linked *refl.Program, label string) *ShaderProgram {
	if label == "" {
		label = linked.Name
	}
	p := &ShaderProgram{linked: linked, label: label}
	p.initRef(p, nil)
	p.device.Set(device)
	return p
}

func (p *ShaderProgram) destroy() {
	p.kernels = nil
	p.device.BreakStrong()
}

// Name returns the linked program's name, including any bound specialization
// arguments.
func (p *ShaderProgram) Name() string { return p.linked.Name }

// Label returns the diagnostic label.
func (p *ShaderProgram) Label() string { return p.label }

// Linked returns the underlying reflection program.
func (p *ShaderProgram) Linked() *refl.Program { return p.linked }

// IsSpecializable reports whether the program still has unbound
// specialization parameters.
func (p *ShaderProgram) IsSpecializable() bool { return p.linked.IsSpecializable() }

// GlobalScopeLayout returns the layout of the program's global parameter
// scope.
func (p *ShaderProgram) GlobalScopeLayout() *refl.TypeLayout { return p.linked.GlobalScope }

// EntryPointIndex resolves an entry point by name.
func (p *ShaderProgram) EntryPointIndex(name string) (int, error) {
	for i, ep := range p.linked.EntryPoints {
		if ep.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("rhi: program %s has no entry point %q: %w", p.Name(), name, ErrInvalidArgument)
}

// CreateRootObject creates a shader object for the program's global
// parameter scope.
func (p *ShaderProgram) CreateRootObject() (*ShaderObject, error) {
	return p.device.Get().createShaderObjectFromTypeLayout(p.linked.GlobalScope)
}
