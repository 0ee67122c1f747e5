package packstream

import "github.com/opencontainers/go-digest"

// Kind identifies the role of a content item within a package.
type Kind uint8

const (
	KindProgram Kind = iota
	KindControl
	KindLegal
	KindMeta
)

func (k Kind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindControl:
		return "control"
	case KindLegal:
		return "legal"
	case KindMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// itemSuffix is the entry name suffix of a payload entry of this kind.
func (k Kind) itemSuffix() string {
	if k == KindMeta {
		return ".meta.item"
	}
	return ".item"
}

// descSuffix is the entry name suffix of a descriptor entry of this kind.
func (k Kind) descSuffix() string {
	switch k {
	case KindProgram:
		return ".program.desc"
	case KindControl:
		return ".control.desc"
	case KindLegal:
		return ".legal.desc"
	default:
		return ".meta.desc"
	}
}

// Record is the finalized view of a streamed item, handed to descriptor and
// metadata renderers.
type Record struct {
	Kind   Kind
	ID     ID
	Size   uint64
	Digest digest.Digest
}

// DescriptorFunc renders an item's descriptor document.
//
// It is called twice per build: once before phase one with the item's
// provisional record (placeholder identifier, empty digest) to size the
// entry, and once with the finalized record to produce the streamed bytes.
// It must be deterministic for the same record. The rendered bytes are
// opaque to the build.
type DescriptorFunc func(Record) ([]byte, error)

// PackageDescriptorFunc renders the package-level metadata document from
// every record, the metadata item's included. Called twice per build under
// the same contract as DescriptorFunc.
type PackageDescriptorFunc func(records []Record) ([]byte, error)

// MetaRenderer produces the metadata item's byte content from the records
// of all non-metadata items.
//
// Render is called twice per build: once before phase one with provisional
// records for size estimation, and once after all other items finalize to
// produce the streamed bytes. It must be deterministic for the same
// records. The regenerated size may differ from the estimate; the build
// resizes the entry before streaming it.
type MetaRenderer interface {
	Render(records []Record) ([]byte, error)
}

// Program is an executable content item.
type Program struct {
	// Provisional is the identifier the item is known by before streaming.
	Provisional ID

	// Content supplies the item's bytes.
	Content Source

	// Patches rewrite content bytes in flight. Applied only when
	// Behavior.ApplyContentPatches is enabled.
	Patches []Patch

	// SigningPatches rewrite the content's embedded signing material.
	// Applied in addition to Patches when Behavior.RewriteSigningMaterial
	// is also enabled.
	SigningPatches []Patch

	// Descriptor renders the item's descriptor entry. Optional.
	Descriptor DescriptorFunc
}

// Icon is a locale-tagged visual asset attached to a control item. It
// becomes its own entry named after the control item's final identifier.
type Icon struct {
	Locale string
	Data   []byte
}

// Control is a descriptive content item with optional visual assets.
type Control struct {
	Provisional ID
	Content     Source
	Patches     []Patch
	Icons       []Icon
	Descriptor  DescriptorFunc
}

// Legal is a legal-information content item.
type Legal struct {
	Provisional ID
	Content     Source
	Patches     []Patch
	Descriptor  DescriptorFunc
}

// Meta describes the package metadata item. Its bytes come from the plan's
// MetaRenderer rather than a caller source: once every other item has
// finalized, the renderer regenerates the content and the item streams
// last among the primaries, with its own digesting and renaming.
type Meta struct {
	Provisional ID

	// Patches rewrite the regenerated bytes in flight, gated like any
	// other item's.
	Patches []Patch

	// Descriptor renders the package-level metadata document. Its entry
	// has deferred size, resolved after regeneration. Optional.
	Descriptor PackageDescriptorFunc
}
