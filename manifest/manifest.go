// Package manifest renders package metadata as deterministic CBOR.
//
// The build regenerates the metadata item after every other item has
// finalized, so a renderer must produce identical bytes for identical
// records. Core Deterministic Encoding guarantees that: sorted map keys,
// smallest integer encoding, no indefinite-length items.
package manifest

import (
	"fmt"

	"github.com/sigmaboy/packstream"
	"github.com/sigmaboy/packstream/internal/codec"
)

// Schema is the document schema version written by this package.
const Schema = 1

// Document is the package metadata item: the authoritative listing of
// the package's content items.
type Document struct {
	Schema      uint              `cbor:"schema"                json:"schema"`
	Name        string            `cbor:"name"                  json:"name"`
	Version     string            `cbor:"version,omitempty"     json:"version,omitempty"`
	Annotations map[string]string `cbor:"annotations,omitempty" json:"annotations,omitempty"`
	Items       []ItemRecord      `cbor:"items"                 json:"items"`
}

// ItemRecord is one content item as listed in a metadata document. A
// provisional record carries a placeholder identifier and no digest;
// both identifier renderings are 32 hex characters, so swapping one for
// the other never changes the record's encoded size.
type ItemRecord struct {
	Kind   string `cbor:"kind"             json:"kind"`
	ID     string `cbor:"id"               json:"id"`
	Size   uint64 `cbor:"size"             json:"size"`
	Digest string `cbor:"digest,omitempty" json:"digest,omitempty"`
}

// ItemDescriptor is the per-item descriptor document.
type ItemDescriptor struct {
	Schema  uint       `cbor:"schema"  json:"schema"`
	Package string     `cbor:"package" json:"package"`
	Item    ItemRecord `cbor:"item"    json:"item"`
}

// PackageDescriptor is the metadata item's own descriptor: the full item
// listing, the metadata item itself included.
type PackageDescriptor struct {
	Schema  uint         `cbor:"schema"  json:"schema"`
	Package string       `cbor:"package" json:"package"`
	Items   []ItemRecord `cbor:"items"   json:"items"`
}

// DecodeDocument parses a metadata document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: decode document: %w", err)
	}
	if doc.Schema != Schema {
		return nil, fmt.Errorf("manifest: unsupported schema %d", doc.Schema)
	}
	return &doc, nil
}

// DecodeItemDescriptor parses a per-item descriptor document.
func DecodeItemDescriptor(data []byte) (*ItemDescriptor, error) {
	var desc ItemDescriptor
	if err := codec.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("manifest: decode item descriptor: %w", err)
	}
	return &desc, nil
}

// DecodePackageDescriptor parses a package descriptor document.
func DecodePackageDescriptor(data []byte) (*PackageDescriptor, error) {
	var desc PackageDescriptor
	if err := codec.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("manifest: decode package descriptor: %w", err)
	}
	return &desc, nil
}

// itemRecord converts a build record to its document form.
func itemRecord(rec packstream.Record) ItemRecord {
	return ItemRecord{
		Kind:   rec.Kind.String(),
		ID:     rec.ID.String(),
		Size:   rec.Size,
		Digest: string(rec.Digest),
	}
}

func itemRecords(records []packstream.Record) []ItemRecord {
	out := make([]ItemRecord, len(records))
	for i, rec := range records {
		out[i] = itemRecord(rec)
	}
	return out
}
