package packstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sigmaboy/packstream/internal/table"
)

// itemState tracks one payload entry through a build.
type itemState struct {
	kind    Kind
	entry   int
	prov    ID
	src     Source // nil for the metadata item until regeneration
	patches []Patch

	desc      DescriptorFunc
	descAll   PackageDescriptorFunc // metadata item only
	descEntry int                   // -1 without a descriptor

	icons       []Icon
	iconEntries []int

	record Record
}

// session owns a single build's streaming state: the entry table, the
// header buffer, the chunk buffer, and the cumulative output offset. A
// session serves exactly one build and is discarded afterwards.
type session struct {
	cfg  *buildConfig
	tr   Transport
	tbl  *table.Table
	name string

	items   []itemState // primaries in stream order, metadata last
	metaIdx int         // index into items, -1 without a metadata item

	renderer MetaRenderer

	token      []byte
	chain      []byte
	tokenEntry int
	chainEntry int

	buf []byte // chunk buffer, exclusively owned by the session
	hdr []byte // header buffer, sized once in phase one and reused for the commit

	headerSize   uint64
	payloadTotal uint64
	sent         uint64 // payload bytes written, header excluded
	entriesDone  int
}

func newSession(p *Plan, tr Transport, cfg *buildConfig) (*session, error) {
	if p == nil {
		return nil, fmt.Errorf("packstream: nil plan")
	}
	if tr == nil {
		return nil, fmt.Errorf("packstream: nil transport")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	s := &session{
		cfg:        cfg,
		tr:         tr,
		tbl:        table.New(),
		name:       p.Name,
		metaIdx:    -1,
		renderer:   p.Renderer,
		tokenEntry: -1,
		chainEntry: -1,
		buf:        make([]byte, cfg.chunkSize),
	}

	for i := range p.Programs {
		pr := &p.Programs[i]
		patches := cfg.behavior.patches(pr.Patches, pr.SigningPatches)
		if err := s.addPayload(KindProgram, pr.Provisional, pr.Content.Size(), pr.Content, patches, pr.Descriptor); err != nil {
			return nil, err
		}
	}
	for i := range p.Controls {
		c := &p.Controls[i]
		if err := s.addPayload(KindControl, c.Provisional, c.Content.Size(), c.Content, cfg.behavior.patches(c.Patches, nil), c.Descriptor); err != nil {
			return nil, err
		}
		s.items[len(s.items)-1].icons = c.Icons
	}
	for i := range p.Legals {
		l := &p.Legals[i]
		if err := s.addPayload(KindLegal, l.Provisional, l.Content.Size(), l.Content, cfg.behavior.patches(l.Patches, nil), l.Descriptor); err != nil {
			return nil, err
		}
	}
	if p.Meta != nil {
		estimate, err := p.Renderer.Render(s.provisionalRecords())
		if err != nil {
			return nil, fmt.Errorf("estimate metadata size: %w", err)
		}
		if err := s.addPayload(KindMeta, p.Meta.Provisional, uint64(len(estimate)), nil, cfg.behavior.patches(p.Meta.Patches, nil), nil); err != nil {
			return nil, err
		}
		s.metaIdx = len(s.items) - 1
		s.items[s.metaIdx].descAll = p.Meta.Descriptor
	}

	if err := s.addAuxEntries(); err != nil {
		return nil, err
	}
	if err := s.addCredentials(p.Credentials); err != nil {
		return nil, err
	}
	return s, nil
}

// addPayload appends a primary item and its table entry.
func (s *session) addPayload(kind Kind, prov ID, size uint64, src Source, patches []Patch, desc DescriptorFunc) error {
	idx, err := s.tbl.Add(s.entryName(prov, kind.itemSuffix()), size)
	if err != nil {
		return err
	}
	s.items = append(s.items, itemState{
		kind:      kind,
		entry:     idx,
		prov:      prov,
		src:       src,
		patches:   patches,
		desc:      desc,
		descEntry: -1,
	})
	return nil
}

// addAuxEntries lays out the deferred-size tail: the package metadata
// document first, then per item its icons and descriptor. Add order is
// stream order; offsets depend on it.
func (s *session) addAuxEntries() error {
	if s.metaIdx >= 0 && s.items[s.metaIdx].descAll != nil {
		it := &s.items[s.metaIdx]
		estimate, err := it.descAll(s.provisionalRecordsWithMeta())
		if err != nil {
			return fmt.Errorf("estimate package descriptor size: %w", err)
		}
		idx, err := s.tbl.Add(s.entryName(it.prov, it.kind.descSuffix()), uint64(len(estimate)))
		if err != nil {
			return err
		}
		it.descEntry = idx
	}
	for i := range s.items {
		it := &s.items[i]
		if it.kind == KindMeta {
			continue
		}
		for _, ic := range it.icons {
			idx, err := s.tbl.Add(s.entryName(it.prov, "."+ic.Locale+".icon"), uint64(len(ic.Data)))
			if err != nil {
				return err
			}
			it.iconEntries = append(it.iconEntries, idx)
		}
		if it.desc != nil {
			estimate, err := it.desc(s.provisionalRecord(it))
			if err != nil {
				return fmt.Errorf("estimate %s descriptor size: %w", it.kind, err)
			}
			idx, err := s.tbl.Add(s.entryName(it.prov, it.kind.descSuffix()), uint64(len(estimate)))
			if err != nil {
				return err
			}
			it.descEntry = idx
		}
	}
	return nil
}

// addCredentials fetches the token and chain blobs and appends their tail
// entries. The form follows the StripPersonalizedCredentials toggle.
func (s *session) addCredentials(src CredentialSource) error {
	if src == nil {
		return nil
	}
	rights := src.RightsID()
	if rights == "" {
		return fmt.Errorf("packstream: credential source has no rights identifier")
	}
	common := s.cfg.behavior.StripPersonalizedCredentials

	token, err := src.Token(common)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	chain, err := src.Chain(common)
	if err != nil {
		return fmt.Errorf("fetch certificate chain: %w", err)
	}

	if s.tokenEntry, err = s.tbl.Add(rights+".token", uint64(len(token))); err != nil {
		return err
	}
	if s.chainEntry, err = s.tbl.Add(rights+".chain", uint64(len(chain))); err != nil {
		return err
	}
	s.token, s.chain = token, chain
	return nil
}

// entryName renders an entry name for the phase-one header under the
// build's placeholder policy. Final names always replace the fixed-width
// identifier prefix only, so renames never change name length.
func (s *session) entryName(id ID, suffix string) string {
	if !s.cfg.behavior.EmitProvisionalIdentifiers {
		id = ZeroID
	}
	return id.String() + suffix
}

// provisionalRecord is the pre-flight view of an item, before its bytes
// have streamed.
func (s *session) provisionalRecord(it *itemState) Record {
	return Record{
		Kind: it.kind,
		ID:   it.prov,
		Size: s.tbl.Size(it.entry),
	}
}

// provisionalRecords returns pre-flight records for all non-metadata items.
func (s *session) provisionalRecords() []Record {
	recs := make([]Record, 0, len(s.items))
	for i := range s.items {
		if s.items[i].kind == KindMeta {
			continue
		}
		recs = append(recs, s.provisionalRecord(&s.items[i]))
	}
	return recs
}

func (s *session) provisionalRecordsWithMeta() []Record {
	recs := make([]Record, 0, len(s.items))
	for i := range s.items {
		recs = append(recs, s.provisionalRecord(&s.items[i]))
	}
	return recs
}

// finalRecords returns the finalized records in stream order.
func (s *session) finalRecords(includeMeta bool) []Record {
	recs := make([]Record, 0, len(s.items))
	for i := range s.items {
		if s.items[i].kind == KindMeta && !includeMeta {
			continue
		}
		recs = append(recs, s.items[i].record)
	}
	return recs
}

// sendProvisional serializes the provisional table and sends it as the
// first bytes of the output stream, recording the header size every later
// offset depends on.
func (s *session) sendProvisional(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.headerSize = s.tbl.HeaderSize()
	s.payloadTotal = s.tbl.DataSize()
	s.hdr = make([]byte, s.headerSize)
	if _, err := s.tbl.Serialize(s.hdr); err != nil {
		return err
	}
	if err := s.tr.Begin(s.name, s.tbl.TotalSize(), s.headerSize); err != nil {
		return fmt.Errorf("begin %s: %w", s.name, err)
	}
	if err := s.tr.Write(s.hdr); err != nil {
		return fmt.Errorf("write provisional header: %w", err)
	}
	s.emit(StageProvisionalHeader, "")
	s.cfg.logger.Info("provisional header sent",
		slog.String("package", s.name),
		slog.Uint64("header_size", s.headerSize),
		slog.Int("entries", s.tbl.Len()))
	return nil
}

// streamPayload streams one primary item: announce, chunked
// patch/hash/write, digest finalize, rename. Patching strictly precedes
// hashing, and hashing precedes the transport write.
func (s *session) streamPayload(ctx context.Context, it *itemState, stage ProgressStage) error {
	name := s.tbl.Name(it.entry)
	size := s.tbl.Size(it.entry)
	if err := s.tr.Announce(name, size); err != nil {
		return fmt.Errorf("announce %s: %w", name, err)
	}
	s.tbl.MarkStreamed(it.entry)

	ps := &patchSet{}
	for _, p := range it.patches {
		if err := ps.register(p, 0); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	rc, err := it.src.Open(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	acc := NewAccumulator()
	var off uint64
	for off < size {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := uint64(len(s.buf))
		if rem := size - off; rem < n {
			n = rem
		}
		chunk := s.buf[:n]
		if _, err := io.ReadFull(rc, chunk); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return fmt.Errorf("read %s at %d: %w", name, off, ErrShortSource)
			}
			return fmt.Errorf("read %s at %d: %w", name, off, err)
		}
		ps.apply(chunk, off)
		if err := acc.Update(chunk); err != nil {
			return err
		}
		if err := s.tr.Write(chunk); err != nil {
			return fmt.Errorf("write %s at %d: %w", name, off, err)
		}
		off += n
		s.sent += n
		s.emit(stage, name)
	}

	d := acc.Finalize()
	id, err := IDFromDigest(d)
	if err != nil {
		return err
	}
	it.record = Record{Kind: it.kind, ID: id, Size: size, Digest: d}
	final := id.String() + it.kind.itemSuffix()
	if err := s.tbl.Rename(it.entry, final); err != nil {
		return err
	}
	s.entriesDone++
	s.emit(stage, final)
	s.cfg.logger.Info("item streamed",
		slog.String("kind", it.kind.String()),
		slog.String("id", id.String()),
		slog.Uint64("bytes", size))
	return nil
}

// streamAux streams one fixed-content entry: announce, then chunk-bounded
// writes. Aux entries carry no digest of their own; their names derive
// from their owner's already-final identifier.
func (s *session) streamAux(ctx context.Context, entry int, data []byte) error {
	name := s.tbl.Name(entry)
	if err := s.tr.Announce(name, uint64(len(data))); err != nil {
		return fmt.Errorf("announce %s: %w", name, err)
	}
	s.tbl.MarkStreamed(entry)
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), len(s.buf))
		if err := s.tr.Write(data[:n]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		data = data[n:]
		s.sent += uint64(n)
		s.emit(StageAuxiliary, name)
	}
	s.entriesDone++
	return nil
}

// regenerateMeta renders the metadata item from the finalized records,
// resizes its entry, and streams it like any other content item.
func (s *session) regenerateMeta(ctx context.Context) error {
	if s.metaIdx < 0 {
		return nil
	}
	it := &s.items[s.metaIdx]
	content, err := s.renderer.Render(s.finalRecords(false))
	if err != nil {
		return fmt.Errorf("regenerate metadata: %w", err)
	}
	if err := s.tbl.Resize(it.entry, uint64(len(content))); err != nil {
		return err
	}
	it.src = BytesSource(content)
	return s.streamPayload(ctx, it, StageMetadata)
}

// streamAuxEntries resolves and streams the deferred tail: the package
// metadata document, per-item icons and descriptors, then credentials.
// Owners have finalized by now, so every aux entry is renamed to its final
// name before it is announced.
func (s *session) streamAuxEntries(ctx context.Context) error {
	if s.metaIdx >= 0 {
		it := &s.items[s.metaIdx]
		if it.descEntry >= 0 {
			data, err := it.descAll(s.finalRecords(true))
			if err != nil {
				return fmt.Errorf("render package descriptor: %w", err)
			}
			if err := s.resolveAux(it.descEntry, it.record.ID, it.kind.descSuffix(), uint64(len(data))); err != nil {
				return err
			}
			if err := s.streamAux(ctx, it.descEntry, data); err != nil {
				return err
			}
		}
	}
	for i := range s.items {
		it := &s.items[i]
		if it.kind == KindMeta {
			continue
		}
		for j, ic := range it.icons {
			entry := it.iconEntries[j]
			if err := s.resolveAux(entry, it.record.ID, "."+ic.Locale+".icon", uint64(len(ic.Data))); err != nil {
				return err
			}
			if err := s.streamAux(ctx, entry, ic.Data); err != nil {
				return err
			}
		}
		if it.descEntry >= 0 {
			data, err := it.desc(it.record)
			if err != nil {
				return fmt.Errorf("render %s descriptor: %w", it.kind, err)
			}
			if err := s.resolveAux(it.descEntry, it.record.ID, it.kind.descSuffix(), uint64(len(data))); err != nil {
				return err
			}
			if err := s.streamAux(ctx, it.descEntry, data); err != nil {
				return err
			}
		}
	}
	if s.tokenEntry >= 0 {
		if err := s.streamAux(ctx, s.tokenEntry, s.token); err != nil {
			return err
		}
		if err := s.streamAux(ctx, s.chainEntry, s.chain); err != nil {
			return err
		}
	}
	return nil
}

// resolveAux renames an aux entry to its owner's final identifier and
// resizes it to the rendered byte count.
func (s *session) resolveAux(entry int, id ID, suffix string, size uint64) error {
	if err := s.tbl.Rename(entry, id.String()+suffix); err != nil {
		return err
	}
	return s.tbl.Resize(entry, size)
}

// commit re-serializes the finalized table into the phase-one header
// buffer and instructs the transport to overwrite the header region. The
// header size must match phase one exactly; a drift is a consistency
// violation, and the commit must never be attempted on top of it.
func (s *session) commit() error {
	if hs := s.tbl.HeaderSize(); hs != s.headerSize {
		return fmt.Errorf("final header is %d bytes, provisional was %d: %w",
			hs, s.headerSize, ErrHeaderSizeMismatch)
	}
	if _, err := s.tbl.Serialize(s.hdr); err != nil {
		return err
	}
	if err := s.tr.CommitHeader(s.hdr); err != nil {
		return fmt.Errorf("commit header: %w", err)
	}
	s.emit(StageCommit, "")
	s.cfg.logger.Info("header committed",
		slog.String("package", s.name),
		slog.Uint64("header_size", s.headerSize),
		slog.Uint64("total_size", s.headerSize+s.sent))
	return nil
}

func (s *session) emit(stage ProgressStage, entry string) {
	if s.cfg.progress == nil {
		return
	}
	s.cfg.progress(ProgressEvent{
		Stage:        stage,
		Entry:        entry,
		BytesDone:    s.sent,
		BytesTotal:   s.payloadTotal,
		EntriesDone:  s.entriesDone,
		EntriesTotal: s.tbl.Len(),
	})
}

// patches selects the patch set the build's toggles enable for one item.
func (b Behavior) patches(content, signing []Patch) []Patch {
	if !b.ApplyContentPatches {
		return nil
	}
	out := make([]Patch, 0, len(content)+len(signing))
	out = append(out, content...)
	if b.RewriteSigningMaterial {
		out = append(out, signing...)
	}
	return out
}
