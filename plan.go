package packstream

import "fmt"

// Plan describes one package build: the content items in stream order plus
// the collaborators the build needs. A plan is consumed by a single Build
// call; sources are opened at most once.
//
// Stream order is programs, controls, legals (each in slice order), then
// the metadata item, then auxiliary entries (the package metadata document,
// per-item icons and descriptors, credentials).
type Plan struct {
	// Name is the package name announced to the transport, typically the
	// output file name.
	Name string

	Programs []Program
	Controls []Control
	Legals   []Legal

	// Meta is the package metadata item. Optional; when set, Renderer is
	// required.
	Meta *Meta

	// Renderer regenerates the metadata item's content.
	Renderer MetaRenderer

	// Credentials supplies the token and certificate chain tail entries.
	// Optional.
	Credentials CredentialSource
}

func (p *Plan) validate() error {
	if p.Name == "" {
		return fmt.Errorf("packstream: plan needs a name")
	}
	if len(p.Programs)+len(p.Controls)+len(p.Legals) == 0 && p.Meta == nil {
		return fmt.Errorf("packstream: plan has no content items")
	}
	if p.Meta != nil && p.Renderer == nil {
		return fmt.Errorf("packstream: metadata item needs a renderer")
	}
	for i, pr := range p.Programs {
		if pr.Content == nil {
			return fmt.Errorf("packstream: program %d has no content source", i)
		}
	}
	for i, c := range p.Controls {
		if c.Content == nil {
			return fmt.Errorf("packstream: control %d has no content source", i)
		}
		for j, ic := range c.Icons {
			if ic.Locale == "" {
				return fmt.Errorf("packstream: control %d icon %d has no locale", i, j)
			}
		}
	}
	for i, l := range p.Legals {
		if l.Content == nil {
			return fmt.Errorf("packstream: legal %d has no content source", i)
		}
	}
	return nil
}
