package rhi

import (
	"hash/fnv"

	"github.com/gogpu/rhi/refl"
)

// ComponentID is a small integer standing in for a (type, specialization
// arguments) signature. IDs are interned by a ShaderCache and used as fast
// cache key components.
type ComponentID uint32

// InvalidComponentID marks a component identity that has not been resolved.
const InvalidComponentID ComponentID = 0xFFFFFFFF

// ExtendedShaderObjectType pairs a reflected type with its interned
// component identity.
type ExtendedShaderObjectType struct {
	Type        *refl.Type
	ComponentID ComponentID
}

// TypeList is an ordered list of specialization arguments. Order matters:
// it encodes positional specialization parameters, so two lists with the
// same members in different orders are distinct signatures.
type TypeList struct {
	ids  []ComponentID
	args []refl.SpecializationArg
}

// Add appends one argument.
func (l *TypeList) Add(t ExtendedShaderObjectType) {
	l.ids = append(l.ids, t.ComponentID)
	l.args = append(l.args, refl.TypeArg(t.Type))
}

// AddRange appends every argument of other.
func (l *TypeList) AddRange(other *TypeList) {
	for i := 0; i < other.Count(); i++ {
		l.Add(other.At(i))
	}
}

// At returns the i-th argument.
func (l *TypeList) At(i int) ExtendedShaderObjectType {
	return ExtendedShaderObjectType{Type: l.args[i].Type, ComponentID: l.ids[i]}
}

// setAt replaces the i-th argument in place.
func (l *TypeList) setAt(i int, t ExtendedShaderObjectType) {
	l.ids[i] = t.ComponentID
	l.args[i] = refl.TypeArg(t.Type)
}

// Count returns the number of arguments.
func (l *TypeList) Count() int { return len(l.ids) }

// Clear empties the list, keeping allocated capacity.
func (l *TypeList) Clear() {
	l.ids = l.ids[:0]
	l.args = l.args[:0]
}

// ComponentIDs returns the ordered component identities. The slice aliases
// the list; callers must not modify it.
func (l *TypeList) ComponentIDs() []ComponentID { return l.ids }

// Args returns the ordered specialization arguments for the compiler.
// The slice aliases the list; callers must not modify it.
func (l *TypeList) Args() []refl.SpecializationArg { return l.args }

// hashCombine folds v into seed, boost-style. Successive combines over an
// ordered sequence make the hash order-sensitive.
func hashCombine(seed, v uint64) uint64 {
	return seed ^ (v + 0x9e3779b97f4a7c15 + (seed << 12) + (seed >> 4))
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// ComponentKey identifies a (type name, ordered specialization argument)
// tuple. Equality requires an identical name and an identical ordered
// argument sequence.
type ComponentKey struct {
	typeName string
	args     []ComponentID
	hash     uint64
}

// NewComponentKey builds a key over a type name and its ordered argument
// identities. The args slice is not copied; callers must not mutate it
// after the call.
func NewComponentKey(typeName string, args []ComponentID) ComponentKey {
	k := ComponentKey{typeName: typeName, args: args}
	h := hashString(typeName)
	for _, a := range args {
		h = hashCombine(h, uint64(a))
	}
	k.hash = h
	return k
}

func (k ComponentKey) equal(other ComponentKey) bool {
	if k.typeName != other.typeName || len(k.args) != len(other.args) {
		return false
	}
	for i := range k.args {
		if k.args[i] != other.args[i] {
			return false
		}
	}
	return true
}

// PipelineKey identifies a (base pipeline, ordered specialization argument)
// tuple. The base pipeline contributes by identity, not structure.
type PipelineKey struct {
	pipeline Pipeline
	args     []ComponentID
	hash     uint64
}

// NewPipelineKey builds a key over a base pipeline and the ordered argument
// identities. The args slice is not copied; callers must not mutate it
// after the call.
func NewPipelineKey(pipeline Pipeline, args []ComponentID) PipelineKey {
	k := PipelineKey{pipeline: pipeline, args: args}
	h := pipeline.pipelineID()
	for _, a := range args {
		h = hashCombine(h, uint64(a))
	}
	k.hash = h
	return k
}

func (k PipelineKey) equal(other PipelineKey) bool {
	if k.pipeline != other.pipeline || len(k.args) != len(other.args) {
		return false
	}
	for i := range k.args {
		if k.args[i] != other.args[i] {
			return false
		}
	}
	return true
}

type componentEntry struct {
	key ComponentKey
	id  ComponentID
}

type pipelineEntry struct {
	key      PipelineKey
	pipeline Pipeline
}

// ShaderCache interns component identities and caches specialized pipelines
// by structural key.
//
// Two independent maps are kept: the component identity table (key to
// sequentially assigned id, never recycled) and the specialized pipeline
// table. The cache exclusively owns the pipelines it stores; callers
// receive non-owning references valid until Free.
//
// A ShaderCache has no internal locking. Callers serialize access, normally
// by accessing it only through its owning Device.
type ShaderCache struct {
	componentIDs map[uint64][]componentEntry
	pipelines    map[uint64][]pipelineEntry
	nextID       ComponentID
}

func (c *ShaderCache) init() {
	c.componentIDs = make(map[uint64][]componentEntry)
	c.pipelines = make(map[uint64][]pipelineEntry)
}

// ComponentID interns key, assigning a fresh sequential id on first sight.
// The same logical key always yields the same id for the lifetime of the
// cache.
func (c *ShaderCache) ComponentID(key ComponentKey) ComponentID {
	if c.componentIDs == nil {
		c.init()
	}
	for _, e := range c.componentIDs[key.hash] {
		if e.key.equal(key) {
			return e.id
		}
	}
	id := c.nextID
	c.nextID++
	c.componentIDs[key.hash] = append(c.componentIDs[key.hash], componentEntry{key: key, id: id})
	return id
}

// ComponentIDForType interns a type without specialization arguments.
func (c *ShaderCache) ComponentIDForType(t *refl.Type) ComponentID {
	return c.ComponentID(NewComponentKey(t.Name(), nil))
}

// ComponentIDForName interns a bare name.
func (c *ShaderCache) ComponentIDForName(name string) ComponentID {
	return c.ComponentID(NewComponentKey(name, nil))
}

// componentCount returns the number of interned component keys.
func (c *ShaderCache) componentCount() int {
	n := 0
	for _, bucket := range c.componentIDs {
		n += len(bucket)
	}
	return n
}

// SpecializedPipeline looks up a previously cached specialized pipeline.
// The returned reference is owned by the cache.
func (c *ShaderCache) SpecializedPipeline(key PipelineKey) (Pipeline, bool) {
	for _, e := range c.pipelines[key.hash] {
		if e.key.equal(key) {
			return e.pipeline, true
		}
	}
	return nil, false
}

// AddSpecializedPipeline stores a specialized pipeline, taking ownership.
func (c *ShaderCache) AddSpecializedPipeline(key PipelineKey, p Pipeline) {
	if c.pipelines == nil {
		c.init()
	}
	p.retain()
	c.pipelines[key.hash] = append(c.pipelines[key.hash], pipelineEntry{key: key, pipeline: p})
}

// Free clears both tables and releases every owned pipeline. All previously
// issued component ids and pipeline references become invalid; ids handed
// out afterwards are fresh and must not be compared across the reset
// boundary. Free is an explicit, caller-coordinated operation.
func (c *ShaderCache) Free() {
	for _, bucket := range c.pipelines {
		for _, e := range bucket {
			e.pipeline.release()
		}
	}
	c.componentIDs = make(map[uint64][]componentEntry)
	c.pipelines = make(map[uint64][]pipelineEntry)
}
