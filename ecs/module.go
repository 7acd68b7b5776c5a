package ecs

import "fmt"

// EngineVersion is the packed engine version. Modules whose TargetVersion
// does not match exactly are rejected at load.
const EngineVersion uint32 = 0<<24 | 14<<16 | 0

// PackVersion packs a major.minor.patch triple into the u32 wire form.
func PackVersion(major, minor, patch uint32) uint32 {
	return major<<24 | minor<<16 | patch
}

// UnpackVersion splits a packed version for display.
func UnpackVersion(version uint32) (major, minor, patch uint32) {
	return version >> 24, (version >> 16) & 0xFF, version & 0xFFFF
}

func formatVersion(version uint32) string {
	major, minor, patch := UnpackVersion(version)
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

// ArgKind classifies one system input.
type ArgKind uint8

const (
	// ArgKindDataAccessRef is shared access to a resource.
	ArgKindDataAccessRef ArgKind = iota
	// ArgKindDataAccessMut is exclusive access to a resource.
	ArgKindDataAccessMut
	ArgKindEventReader
	ArgKindEventWriter
	ArgKindQuery
	// ArgKindCompletion reads the finished results of an async callable.
	ArgKindCompletion
)

// SystemFn is a system body. It receives the engine capability scope and the
// resolved inputs, in the order the module declared them.
type SystemFn func(scope *SystemScope, args []Arg) error

// EcsModule is the interface a loadable module presents to the engine. The
// engine walks the introspection methods exactly once at registration and
// bakes the results into immutable descriptors; modules may answer from
// static tables.
//
// Component introspection is indexed by string id. System introspection is
// indexed positionally, with nested indexing for query arguments.
type EcsModule interface {
	ModuleName() string

	// TargetVersion is the packed engine version the module was built
	// against. It must equal EngineVersion exactly.
	TargetVersion() uint32

	Init() error
	Deinit() error

	ComponentsLen() int
	ComponentStringId(index int) string
	ComponentSize(stringId string) int
	ComponentAlign(stringId string) int
	ComponentType(stringId string) ComponentType

	// ComponentAsyncCompletionCallable returns the string id of the callable
	// whose results a ComponentTypeAsyncCompletion type delivers.
	ComponentAsyncCompletionCallable(stringId string) string

	SystemsLen() int
	SystemName(index int) string
	SystemIsOnce(index int) bool
	SystemFn(index int) SystemFn

	SystemArgsLen(systemIndex int) int
	SystemArgKind(systemIndex, argIndex int) ArgKind
	// SystemArgComponent names the resource or completion type of a data
	// access or completion arg.
	SystemArgComponent(systemIndex, argIndex int) string
	// SystemArgEvent names the event type of a reader or writer arg.
	SystemArgEvent(systemIndex, argIndex int) string

	SystemQueryArgsLen(systemIndex, argIndex int) int
	SystemQueryArgKind(systemIndex, argIndex, queryArgIndex int) ArgKind
	SystemQueryArgComponent(systemIndex, argIndex, queryArgIndex int) string

	// ResourceInit writes the resource's initial value into dst.
	ResourceInit(stringId string, dst []byte) error

	ResourceSerialize(stringId string, src []byte) ([]byte, error)
	ResourceDeserialize(stringId string, dst, data []byte) error

	// ComponentDeserializeJson decodes a scene JSON payload into dst.
	ComponentDeserializeJson(stringId string, dst []byte, text []byte) error
}

// GpuComponentModule is optionally implemented by modules declaring
// GPU-compatible components. Components default to CPU storage.
type GpuComponentModule interface {
	ComponentGpuCompatible(stringId string) bool
}

// MutabilityModule is optionally implemented by modules declaring components
// that systems may not take mutably. Components default to freely mutable.
type MutabilityModule interface {
	ComponentFreelyMutable(stringId string) bool
}

// AsyncSystemModule is optionally implemented by modules with systems that
// run in the async phase at the start of the frame instead of the ordered
// CPU phase.
type AsyncSystemModule interface {
	SystemIsAsync(index int) bool
}

// GpuSystemModule is optionally implemented by modules with systems that run
// in the GPU phase at the end of the frame, after commands have been applied
// and world transforms recomputed.
type GpuSystemModule interface {
	SystemIsGpu(index int) bool
}

// CallableModule is optionally implemented by modules exposing host
// functions. CallableFn receives the raw parameter bytes and returns the raw
// return value.
type CallableModule interface {
	CallableFn(stringId string) CallableFn
	CallableIsSync(stringId string) bool
}

// moduleDescriptor is the engine's baked view of a registered module.
type moduleDescriptor struct {
	name    string
	module  EcsModule
	systems []systemDescriptor
}

type systemDescriptor struct {
	// name is the fully qualified "Module::system" name.
	name  string
	fn    SystemFn
	once  bool
	async bool
	gpu   bool
	args  []argDescriptor
}

type argDescriptor struct {
	kind      ArgKind
	component string // resource or completion string id
	event     string // event type
	query     []queryArgDescriptor
}

type queryArgDescriptor struct {
	mut       bool
	component string
}

func buildModuleDescriptor(m EcsModule) *moduleDescriptor {
	desc := &moduleDescriptor{
		name:   m.ModuleName(),
		module: m,
	}

	asyncModule, _ := m.(AsyncSystemModule)
	gpuModule, _ := m.(GpuSystemModule)

	for si := 0; si < m.SystemsLen(); si++ {
		sys := systemDescriptor{
			name: desc.name + "::" + m.SystemName(si),
			fn:   m.SystemFn(si),
			once: m.SystemIsOnce(si),
		}
		if asyncModule != nil {
			sys.async = asyncModule.SystemIsAsync(si)
		}
		if gpuModule != nil {
			sys.gpu = gpuModule.SystemIsGpu(si)
		}
		if sys.gpu && sys.async {
			panic(fmt.Sprintf("ecs: system %s: declared both gpu and async", sys.name))
		}

		for ai := 0; ai < m.SystemArgsLen(si); ai++ {
			arg := argDescriptor{kind: m.SystemArgKind(si, ai)}
			switch arg.kind {
			case ArgKindDataAccessRef, ArgKindDataAccessMut, ArgKindCompletion:
				arg.component = m.SystemArgComponent(si, ai)
			case ArgKindEventReader, ArgKindEventWriter:
				arg.event = m.SystemArgEvent(si, ai)
			case ArgKindQuery:
				for qi := 0; qi < m.SystemQueryArgsLen(si, ai); qi++ {
					arg.query = append(arg.query, queryArgDescriptor{
						mut:       m.SystemQueryArgKind(si, ai, qi) == ArgKindDataAccessMut,
						component: m.SystemQueryArgComponent(si, ai, qi),
					})
				}
			}
			sys.args = append(sys.args, arg)
		}

		desc.systems = append(desc.systems, sys)
	}

	return desc
}
