package manifest

import (
	"github.com/sigmaboy/packstream"
	"github.com/sigmaboy/packstream/internal/codec"
)

// Renderer produces the metadata item and descriptor documents for one
// package. It implements packstream.MetaRenderer, and its ItemDescriptor
// and PackageDescriptor methods satisfy the plan's descriptor function
// types directly.
//
// All renderer state is fixed at construction, so every render over the
// same records yields identical bytes.
type Renderer struct {
	name        string
	version     string
	annotations map[string]string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithVersion sets the package version recorded in the document.
func WithVersion(version string) Option {
	return func(r *Renderer) {
		r.version = version
	}
}

// WithAnnotation attaches an annotation to the document. Encoding sorts
// keys, so insertion order does not affect the rendered bytes.
func WithAnnotation(key, value string) Option {
	return func(r *Renderer) {
		if r.annotations == nil {
			r.annotations = make(map[string]string)
		}
		r.annotations[key] = value
	}
}

// NewRenderer creates a renderer for the named package.
func NewRenderer(name string, opts ...Option) *Renderer {
	r := &Renderer{name: name}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the metadata item content from the non-metadata
// records.
func (r *Renderer) Render(records []packstream.Record) ([]byte, error) {
	return codec.Marshal(&Document{
		Schema:      Schema,
		Name:        r.name,
		Version:     r.version,
		Annotations: r.annotations,
		Items:       itemRecords(records),
	})
}

// ItemDescriptor renders one item's descriptor document. Use it as the
// item's packstream.DescriptorFunc.
func (r *Renderer) ItemDescriptor(rec packstream.Record) ([]byte, error) {
	return codec.Marshal(&ItemDescriptor{
		Schema:  Schema,
		Package: r.name,
		Item:    itemRecord(rec),
	})
}

// PackageDescriptor renders the package descriptor document from every
// record. Use it as the metadata item's packstream.PackageDescriptorFunc.
func (r *Renderer) PackageDescriptor(records []packstream.Record) ([]byte, error) {
	return codec.Marshal(&PackageDescriptor{
		Schema:  Schema,
		Package: r.name,
		Items:   itemRecords(records),
	})
}
