// Package langs is the closed tagged enum of supported source languages
// (spec.md §9 "Polymorphism"): canonical lowercase tags used both in
// compile-cache fingerprinting and on the wire, plus the pure
// tag -> source-extension and tag -> compiler-image mappings. The compile
// worker uses the source extension to name a job's source file; it runs the
// single configured compiler image and does not read the per-language one.
package langs

import "fmt"

// Tag is a canonical lowercase language identifier, e.g. "python", "rust".
type Tag string

// Descriptor is the static, per-language data the compile worker consumes.
// All fields are pure functions of Tag — no per-job state lives here.
type Descriptor struct {
	Tag       Tag
	Extension string // source file extension, without the dot
	Image     string // compiler collaborator image reference suffix
}

// registry is the closed set of supported languages. Extending the arena
// to a new language means adding a row here; nothing else keys off an
// open-ended string.
var registry = []Descriptor{
	{Tag: "c", Extension: "c", Image: "compiler-c"},
	{Tag: "cpp", Extension: "cpp", Image: "compiler-cpp"},
	{Tag: "rust", Extension: "rs", Image: "compiler-rust"},
	{Tag: "go", Extension: "go", Image: "compiler-go"},
	{Tag: "python", Extension: "py", Image: "compiler-python"},
	{Tag: "javascript", Extension: "js", Image: "compiler-javascript"},
	{Tag: "typescript", Extension: "ts", Image: "compiler-typescript"},
	{Tag: "java", Extension: "java", Image: "compiler-java"},
	{Tag: "kotlin", Extension: "kt", Image: "compiler-kotlin"},
	{Tag: "csharp", Extension: "cs", Image: "compiler-csharp"},
	{Tag: "fsharp", Extension: "fs", Image: "compiler-fsharp"},
	{Tag: "swift", Extension: "swift", Image: "compiler-swift"},
	{Tag: "ruby", Extension: "rb", Image: "compiler-ruby"},
	{Tag: "php", Extension: "php", Image: "compiler-php"},
	{Tag: "perl", Extension: "pl", Image: "compiler-perl"},
	{Tag: "lua", Extension: "lua", Image: "compiler-lua"},
	{Tag: "haskell", Extension: "hs", Image: "compiler-haskell"},
	{Tag: "ocaml", Extension: "ml", Image: "compiler-ocaml"},
	{Tag: "scala", Extension: "scala", Image: "compiler-scala"},
	{Tag: "clojure", Extension: "clj", Image: "compiler-clojure"},
	{Tag: "erlang", Extension: "erl", Image: "compiler-erlang"},
	{Tag: "elixir", Extension: "ex", Image: "compiler-elixir"},
	{Tag: "zig", Extension: "zig", Image: "compiler-zig"},
	{Tag: "nim", Extension: "nim", Image: "compiler-nim"},
	{Tag: "d", Extension: "d", Image: "compiler-d"},
	{Tag: "crystal", Extension: "cr", Image: "compiler-crystal"},
	{Tag: "fortran", Extension: "f90", Image: "compiler-fortran"},
	{Tag: "pascal", Extension: "pas", Image: "compiler-pascal"},
	{Tag: "assembly", Extension: "asm", Image: "compiler-assembly"},
	{Tag: "dart", Extension: "dart", Image: "compiler-dart"},
	{Tag: "r", Extension: "r", Image: "compiler-r"},
}

var byTag map[Tag]Descriptor

func init() {
	byTag = make(map[Tag]Descriptor, len(registry))
	for _, d := range registry {
		byTag[d.Tag] = d
	}
}

// Lookup resolves tag, returning (Descriptor{}, false) for anything outside
// the closed set declared in registry.
func Lookup(tag Tag) (Descriptor, bool) {
	d, ok := byTag[tag]
	return d, ok
}

// Valid reports whether tag is a supported language.
func Valid(tag Tag) bool {
	_, ok := byTag[tag]
	return ok
}

// MustLookup panics if tag is unsupported; callers must validate with Valid
// (or handle Lookup's ok) on any externally-sourced tag first.
func MustLookup(tag Tag) Descriptor {
	d, ok := byTag[tag]
	if !ok {
		panic(fmt.Sprintf(`langs: unsupported language %q`, tag))
	}
	return d
}

// All returns the full registry in declaration order, for surfaces that
// list supported languages (e.g. an ingress /languages endpoint).
func All() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}
