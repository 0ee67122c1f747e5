package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/sigmaboy/packstream"
	packhttp "github.com/sigmaboy/packstream/http"
	"github.com/sigmaboy/packstream/manifest"
)

// packManifest is the TOML build manifest the pack and send commands
// consume. Relative paths resolve against the manifest's directory;
// content paths may also be HTTP(S) URLs.
type packManifest struct {
	Name        string              `toml:"name"`
	Meta        *metaSection        `toml:"meta"`
	Programs    []programSection    `toml:"program"`
	Controls    []controlSection    `toml:"control"`
	Legals      []legalSection      `toml:"legal"`
	Credentials *credentialsSection `toml:"credentials"`

	dir string
}

type metaSection struct {
	ID          string            `toml:"id"`
	Version     string            `toml:"version"`
	Annotations map[string]string `toml:"annotations"`
	Patches     []patchSection    `toml:"patch"`
}

type programSection struct {
	Path           string         `toml:"path"`
	ID             string         `toml:"id"`
	Patches        []patchSection `toml:"patch"`
	SigningPatches []patchSection `toml:"signing_patch"`
}

type controlSection struct {
	Path    string         `toml:"path"`
	ID      string         `toml:"id"`
	Patches []patchSection `toml:"patch"`
	Icons   []iconSection  `toml:"icon"`
}

type legalSection struct {
	Path    string         `toml:"path"`
	ID      string         `toml:"id"`
	Patches []patchSection `toml:"patch"`
}

type iconSection struct {
	Locale string `toml:"locale"`
	Path   string `toml:"path"`
}

// patchSection is one byte-range rewrite: data, hex encoded, overwrites
// the item's bytes at offset.
type patchSection struct {
	Offset uint64 `toml:"offset"`
	Data   string `toml:"data"`
}

type credentialsSection struct {
	RightsID    string `toml:"rights_id"`
	Token       string `toml:"token"`
	CommonToken string `toml:"common_token"`
	Chain       string `toml:"chain"`
	CommonChain string `toml:"common_chain"`
}

func loadPackManifest(path string) (*packManifest, error) {
	var m packManifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("manifest %s: unknown key %q", path, keys[0].String())
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: missing package name", path)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// plan maps the manifest onto a build plan: file sources for every content
// path, parsed provisional identifiers, patches, and a metadata renderer
// that also produces the per-item descriptor entries.
func (m *packManifest) plan() (*packstream.Plan, error) {
	r := m.renderer()

	plan := &packstream.Plan{
		Name:     m.Name,
		Renderer: r,
	}

	for i, p := range m.Programs {
		src, err := m.source(p.Path)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		id, err := parseProvisionalID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		patches, err := parsePatches(p.Patches)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		signing, err := parsePatches(p.SigningPatches)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		plan.Programs = append(plan.Programs, packstream.Program{
			Provisional:    id,
			Content:        src,
			Patches:        patches,
			SigningPatches: signing,
			Descriptor:     r.ItemDescriptor,
		})
	}

	for i, c := range m.Controls {
		src, err := m.source(c.Path)
		if err != nil {
			return nil, fmt.Errorf("control %d: %w", i, err)
		}
		id, err := parseProvisionalID(c.ID)
		if err != nil {
			return nil, fmt.Errorf("control %d: %w", i, err)
		}
		patches, err := parsePatches(c.Patches)
		if err != nil {
			return nil, fmt.Errorf("control %d: %w", i, err)
		}
		icons := make([]packstream.Icon, 0, len(c.Icons))
		for j, ic := range c.Icons {
			if ic.Locale == "" {
				return nil, fmt.Errorf("control %d: icon %d has no locale", i, j)
			}
			data, err := os.ReadFile(m.resolve(ic.Path))
			if err != nil {
				return nil, fmt.Errorf("control %d: icon %s: %w", i, ic.Locale, err)
			}
			icons = append(icons, packstream.Icon{Locale: ic.Locale, Data: data})
		}
		plan.Controls = append(plan.Controls, packstream.Control{
			Provisional: id,
			Content:     src,
			Patches:     patches,
			Icons:       icons,
			Descriptor:  r.ItemDescriptor,
		})
	}

	for i, l := range m.Legals {
		src, err := m.source(l.Path)
		if err != nil {
			return nil, fmt.Errorf("legal %d: %w", i, err)
		}
		id, err := parseProvisionalID(l.ID)
		if err != nil {
			return nil, fmt.Errorf("legal %d: %w", i, err)
		}
		patches, err := parsePatches(l.Patches)
		if err != nil {
			return nil, fmt.Errorf("legal %d: %w", i, err)
		}
		plan.Legals = append(plan.Legals, packstream.Legal{
			Provisional: id,
			Content:     src,
			Patches:     patches,
			Descriptor:  r.ItemDescriptor,
		})
	}

	if m.Meta != nil {
		id, err := parseProvisionalID(m.Meta.ID)
		if err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
		patches, err := parsePatches(m.Meta.Patches)
		if err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
		plan.Meta = &packstream.Meta{
			Provisional: id,
			Patches:     patches,
			Descriptor:  r.PackageDescriptor,
		}
	}

	if m.Credentials != nil {
		creds, err := m.Credentials.load(m)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		plan.Credentials = creds
	}

	return plan, nil
}

func (m *packManifest) renderer() *manifest.Renderer {
	var opts []manifest.Option
	if m.Meta != nil {
		if m.Meta.Version != "" {
			opts = append(opts, manifest.WithVersion(m.Meta.Version))
		}
		for k, v := range m.Meta.Annotations {
			opts = append(opts, manifest.WithAnnotation(k, v))
		}
	}
	return manifest.NewRenderer(m.Name, opts...)
}

func (m *packManifest) source(path string) (packstream.Source, error) {
	if isURL(path) {
		return packhttp.NewSource(path)
	}
	return packstream.FileSource(m.resolve(path))
}

func (m *packManifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.dir, path)
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// archiveReader opens a local package file or a remote one over HTTP for
// header reads and verification.
func archiveReader(path string) (io.ReaderAt, func() error, error) {
	if isURL(path) {
		src, err := packhttp.NewSource(path)
		if err != nil {
			return nil, nil, err
		}
		return src, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func (c *credentialsSection) load(m *packManifest) (*packstream.StaticCredentials, error) {
	if c.RightsID == "" {
		return nil, fmt.Errorf("missing rights_id")
	}
	if c.Token == "" || c.Chain == "" {
		return nil, fmt.Errorf("token and chain are both required")
	}
	creds := &packstream.StaticCredentials{Rights: c.RightsID}
	var err error
	if creds.PersonalToken, err = os.ReadFile(m.resolve(c.Token)); err != nil {
		return nil, err
	}
	if creds.PersonalChain, err = os.ReadFile(m.resolve(c.Chain)); err != nil {
		return nil, err
	}
	if c.CommonToken != "" {
		if creds.CommonToken, err = os.ReadFile(m.resolve(c.CommonToken)); err != nil {
			return nil, err
		}
	}
	if c.CommonChain != "" {
		if creds.CommonChain, err = os.ReadFile(m.resolve(c.CommonChain)); err != nil {
			return nil, err
		}
	}
	return creds, nil
}

func parseProvisionalID(s string) (packstream.ID, error) {
	if s == "" {
		return packstream.ZeroID, nil
	}
	return packstream.ParseID(s)
}

func parsePatches(sections []patchSection) ([]packstream.Patch, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	patches := make([]packstream.Patch, 0, len(sections))
	for i, s := range sections {
		data, err := hex.DecodeString(s.Data)
		if err != nil {
			return nil, fmt.Errorf("patch %d: bad hex data: %w", i, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("patch %d: empty data", i)
		}
		patches = append(patches, packstream.Replace(s.Offset, data))
	}
	return patches, nil
}

// progressPrinter reports stage and entry transitions, not every chunk.
func progressPrinter(w io.Writer) packstream.ProgressFunc {
	var (
		started   bool
		lastStage packstream.ProgressStage
		lastEntry string
	)
	return func(ev packstream.ProgressEvent) {
		if started && ev.Stage == lastStage && ev.Entry == lastEntry {
			return
		}
		started = true
		lastStage, lastEntry = ev.Stage, ev.Entry
		if ev.Entry == "" {
			fmt.Fprintf(w, "%s\n", ev.Stage)
			return
		}
		fmt.Fprintf(w, "%s  %s (%d/%d)\n", ev.Stage, ev.Entry, ev.EntriesDone+1, ev.EntriesTotal)
	}
}
