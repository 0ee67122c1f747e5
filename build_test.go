package packstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmaboy/packstream/internal/testutil"
)

// idOf returns the identifier the build derives for content.
func idOf(content []byte) ID {
	id, err := IDFromDigest(digest.FromBytes(content))
	if err != nil {
		panic(err)
	}
	return id
}

var zeroName = strings.Repeat("0", 32)

// renderLines produces one fixed-width line per record, so renders over the
// same record count always have the same size.
func renderLines(records []Record) []byte {
	var b bytes.Buffer
	for _, rec := range records {
		fmt.Fprintf(&b, "%-8s %s %016x\n", rec.Kind, rec.ID, rec.Size)
	}
	return b.Bytes()
}

// stableRenderer renders fixed-width lines per record, so the regenerated
// size always matches the provisional estimate.
type stableRenderer struct {
	calls  int
	lastIn []Record
}

func (r *stableRenderer) Render(records []Record) ([]byte, error) {
	r.calls++
	r.lastIn = records
	return renderLines(records), nil
}

// growingRenderer appends the digest line only once records carry digests,
// so the final render is larger than the provisional estimate.
type growingRenderer struct{}

func (growingRenderer) Render(records []Record) ([]byte, error) {
	var b bytes.Buffer
	for _, rec := range records {
		fmt.Fprintf(&b, "%s %s\n", rec.Kind, rec.ID)
		if rec.Digest != "" {
			fmt.Fprintf(&b, "  %s\n", rec.Digest)
		}
	}
	return b.Bytes(), nil
}

func testDescriptor(rec Record) ([]byte, error) {
	return fmt.Appendf(nil, "desc %s %s %d", rec.Kind, rec.ID, rec.Size), nil
}

func testPackageDescriptor(records []Record) ([]byte, error) {
	var b bytes.Buffer
	for _, rec := range records {
		fmt.Fprintf(&b, "pkg %s %s\n", rec.Kind, rec.ID)
	}
	return b.Bytes(), nil
}

func TestBuildThreeItems(t *testing.T) {
	t.Parallel()

	a := testutil.Pattern(10, 1)
	b := []byte{}
	c := testutil.Pattern(5, 2)

	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name: "three.pack",
		Programs: []Program{
			{Content: BytesSource(a)},
			{Content: BytesSource(b)},
			{Content: BytesSource(c)},
		},
	}, cap)
	require.NoError(t, err)

	require.Len(t, cap.Entries, 3)
	assert.Equal(t, uint64(10), cap.Entries[0].Size)
	assert.Equal(t, uint64(0), cap.Entries[1].Size)
	assert.Equal(t, uint64(5), cap.Entries[2].Size)

	// Payload after the header is exactly the sum of the declared sizes.
	assert.Equal(t, rep.HeaderSize+15, uint64(len(cap.Stream())))
	assert.Equal(t, rep.HeaderSize+15, rep.TotalSize)
	assert.Equal(t, cap.HeaderSize, rep.HeaderSize)

	// The committed header carries the final identifiers, the zero-length
	// item included.
	entries, err := List(bytes.NewReader(cap.Final()))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, idOf(a).String()+".item", entries[0].Name)
	assert.Equal(t, idOf(b).String()+".item", entries[1].Name)
	assert.Equal(t, idOf(c).String()+".item", entries[2].Name)

	// Offsets are contiguous; the zero-length entry occupies no bytes.
	assert.Equal(t, rep.HeaderSize, entries[0].Offset)
	assert.Equal(t, rep.HeaderSize+10, entries[1].Offset)
	assert.Equal(t, rep.HeaderSize+10, entries[2].Offset)

	require.Len(t, rep.Records, 3)
	assert.Equal(t, idOf(a), rep.Records[0].ID)
}

func TestBuildZeroLengthItem(t *testing.T) {
	t.Parallel()

	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name:     "empty.pack",
		Programs: []Program{{Content: BytesSource(nil)}},
	}, cap)
	require.NoError(t, err)

	// One write for the provisional header, none for the item.
	assert.Equal(t, 1, cap.WriteCalls)
	require.Len(t, cap.Entries, 1)
	assert.Equal(t, uint64(0), cap.Entries[0].Size)
	assert.Equal(t, rep.HeaderSize, rep.TotalSize)

	// The item still finalized and renamed.
	entries, err := List(bytes.NewReader(cap.Final()))
	require.NoError(t, err)
	assert.Equal(t, idOf(nil).String()+".item", entries[0].Name)
}

func TestBuildPatchInvertBits(t *testing.T) {
	t.Parallel()

	src := testutil.Pattern(10, 4)

	cap := &Capture{}
	_, err := Build(context.Background(), &Plan{
		Name: "patched.pack",
		Programs: []Program{{
			Content: BytesSource(src),
			Patches: []Patch{{Offset: 4, Length: 2, Rewrite: invertBits}},
		}},
	}, cap,
		WithChunkSize(3),
		WithBehavior(Behavior{ApplyContentPatches: true}),
	)
	require.NoError(t, err)

	hdr := cap.HeaderSize
	payload := cap.Stream()[hdr:]
	require.Len(t, payload, 10)

	want := bytes.Clone(src)
	copy(want[4:6], testutil.Inverted(src[4:6]))
	assert.Equal(t, want, payload, "bytes 4-5 inverted, everything else untouched")

	// 1 header write + 4 chunk writes for 10 bytes in chunks of 3.
	assert.Equal(t, 5, cap.WriteCalls)

	// The identifier derives from the patched bytes, not the source.
	entries, err := List(bytes.NewReader(cap.Final()))
	require.NoError(t, err)
	assert.Equal(t, idOf(want).String()+".item", entries[0].Name)
}

func TestBuildPatchesDisabledByDefault(t *testing.T) {
	t.Parallel()

	src := testutil.Pattern(10, 4)

	cap := &Capture{}
	_, err := Build(context.Background(), &Plan{
		Name: "plain.pack",
		Programs: []Program{{
			Content: BytesSource(src),
			Patches: []Patch{{Offset: 4, Length: 2, Rewrite: invertBits}},
		}},
	}, cap, WithChunkSize(3))
	require.NoError(t, err)

	assert.Equal(t, src, cap.Stream()[cap.HeaderSize:], "patches must not apply without the toggle")
}

func TestBuildSigningPatchGating(t *testing.T) {
	t.Parallel()

	src := testutil.Pattern(16, 5)
	signing := []Patch{Replace(0, []byte{0xFE, 0xED})}

	build := func(b Behavior) []byte {
		cap := &Capture{}
		_, err := Build(context.Background(), &Plan{
			Name: "signed.pack",
			Programs: []Program{{
				Content:        BytesSource(src),
				SigningPatches: signing,
			}},
		}, cap, WithBehavior(b))
		require.NoError(t, err)
		return cap.Stream()[cap.HeaderSize:]
	}

	t.Run("content patches alone leave signing material", func(t *testing.T) {
		payload := build(Behavior{ApplyContentPatches: true})
		assert.Equal(t, src, payload)
	})

	t.Run("both toggles rewrite it", func(t *testing.T) {
		payload := build(Behavior{ApplyContentPatches: true, RewriteSigningMaterial: true})
		assert.Equal(t, []byte{0xFE, 0xED}, payload[:2])
		assert.Equal(t, src[2:], payload[2:])
	})

	t.Run("signing toggle alone does nothing", func(t *testing.T) {
		payload := build(Behavior{RewriteSigningMaterial: true})
		assert.Equal(t, src, payload)
	})
}

func TestBuildHeadersAgreeAcrossPhases(t *testing.T) {
	t.Parallel()

	renderer := &stableRenderer{}
	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name: "phases.pack",
		Programs: []Program{
			{Content: BytesSource(testutil.Pattern(100, 1)), Descriptor: testDescriptor},
		},
		Meta:     &Meta{Descriptor: testPackageDescriptor},
		Renderer: renderer,
	}, cap)
	require.NoError(t, err)

	provisional := cap.Stream()[:rep.HeaderSize]
	final := cap.Committed
	require.NotNil(t, final)

	require.Equal(t, len(provisional), len(final), "the two headers must be the same size")

	// Provisional names are placeholders; final names are identifiers. The
	// string table is the only region allowed to differ here: the stable
	// renderer keeps every size fixed, descriptor sizes included.
	assert.NotEqual(t, provisional, final)
	assert.True(t, strings.Contains(string(provisional), zeroName+".item"))
	assert.False(t, bytes.Contains(final, []byte(zeroName+".item")))

	recordsEnd := 16 + 24*4 // preamble + four entry records
	assert.Equal(t, provisional[:recordsEnd], final[:recordsEnd],
		"preamble and records must be byte-identical when no entry resizes")
}

func TestBuildHeaderSizeMismatchFatal(t *testing.T) {
	t.Parallel()

	cfg := defaultBuildConfig()
	cap := &Capture{}
	s, err := newSession(&Plan{
		Name:     "tampered.pack",
		Programs: []Program{{Content: BytesSource(testutil.Pattern(8, 3))}},
	}, cap, &cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.sendProvisional(ctx))
	require.NoError(t, s.streamPayload(ctx, &s.items[0], StageContent))

	// Growing the table after phase one changes the header size, which the
	// commit must refuse before touching the transport.
	_, err = s.tbl.Add("late-arrival.item", 1)
	require.NoError(t, err)

	err = s.commit()
	assert.ErrorIs(t, err, ErrHeaderSizeMismatch)
	assert.Nil(t, cap.Committed, "a mismatch must never reach CommitHeader")
}

func TestBuildMetaRegeneration(t *testing.T) {
	t.Parallel()

	a := testutil.Pattern(64, 6)
	b := testutil.Pattern(32, 7)
	renderer := &stableRenderer{}

	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name: "meta.pack",
		Programs: []Program{
			{Content: BytesSource(a)},
			{Content: BytesSource(b)},
		},
		Meta:     &Meta{},
		Renderer: renderer,
	}, cap)
	require.NoError(t, err)

	assert.Equal(t, 2, renderer.calls, "once for sizing, once for regeneration")

	// The final render saw every non-metadata item finalized.
	require.Len(t, renderer.lastIn, 2)
	for _, rec := range renderer.lastIn {
		assert.NotEmpty(t, rec.Digest)
		assert.False(t, rec.ID.IsZero())
	}

	// The metadata item streams last and is digested and renamed like any
	// other item.
	metaContent := renderLines(renderer.lastIn)

	entries, err := List(bytes.NewReader(cap.Final()))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, idOf(metaContent).String()+".meta.item", entries[2].Name)

	require.Len(t, rep.Records, 3)
	assert.Equal(t, KindMeta, rep.Records[2].Kind)

	// Announce order: the two programs, then the metadata item.
	require.Len(t, cap.Entries, 3)
	assert.True(t, strings.HasSuffix(cap.Entries[2].Name, ".meta.item"))
}

func TestBuildMetaResize(t *testing.T) {
	t.Parallel()

	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name:     "resize.pack",
		Programs: []Program{{Content: BytesSource(testutil.Pattern(16, 8))}},
		Meta:     &Meta{},
		Renderer: growingRenderer{},
	}, cap)
	require.NoError(t, err)

	// The final render is larger than the provisional estimate, so the
	// projected total is an underestimate and the committed header is
	// authoritative.
	assert.Greater(t, rep.TotalSize, cap.Total)

	entries, err := List(bytes.NewReader(cap.Final()))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, rep.TotalSize, entries[1].Offset+entries[1].Size)

	// The announced size matches the regenerated content, not the estimate.
	assert.Equal(t, entries[1].Size, cap.Entries[1].Size)
}

func TestBuildAuxEntries(t *testing.T) {
	t.Parallel()

	prog := testutil.Pattern(40, 9)
	ctrl := testutil.Pattern(20, 10)
	legal := testutil.Pattern(10, 11)
	icons := []Icon{
		{Locale: "en-US", Data: testutil.Pattern(6, 12)},
		{Locale: "ja", Data: testutil.Pattern(4, 13)},
	}

	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name:     "full.pack",
		Programs: []Program{{Content: BytesSource(prog), Descriptor: testDescriptor}},
		Controls: []Control{{Content: BytesSource(ctrl), Icons: icons, Descriptor: testDescriptor}},
		Legals:   []Legal{{Content: BytesSource(legal), Descriptor: testDescriptor}},
		Meta:     &Meta{Descriptor: testPackageDescriptor},
		Renderer: &stableRenderer{},
		Credentials: &StaticCredentials{
			Rights:        strings.Repeat("a", 32),
			PersonalToken: testutil.Pattern(704, 14),
			PersonalChain: testutil.Pattern(1792, 15),
		},
	}, cap)
	require.NoError(t, err)

	progID := rep.Records[0].ID.String()
	ctrlID := rep.Records[1].ID.String()
	legalID := rep.Records[2].ID.String()
	metaID := rep.Records[3].ID.String()

	wantNames := []string{
		zeroName + ".item",
		zeroName + ".item",
		zeroName + ".item",
		zeroName + ".meta.item",
		metaID + ".meta.desc",
		progID + ".program.desc",
		ctrlID + ".en-US.icon",
		ctrlID + ".ja.icon",
		ctrlID + ".control.desc",
		legalID + ".legal.desc",
		strings.Repeat("a", 32) + ".token",
		strings.Repeat("a", 32) + ".chain",
	}
	require.Len(t, cap.Entries, len(wantNames))
	for i, e := range cap.Entries {
		assert.Equal(t, wantNames[i], e.Name, "announce %d", i)
	}

	// The committed header carries fully final names in the same order.
	entries, err := List(bytes.NewReader(cap.Final()))
	require.NoError(t, err)
	require.Len(t, entries, len(wantNames))
	assert.Equal(t, progID+".item", entries[0].Name)
	assert.Equal(t, ctrlID+".item", entries[1].Name)
	assert.Equal(t, legalID+".item", entries[2].Name)
	assert.Equal(t, metaID+".meta.item", entries[3].Name)
	for i, want := range wantNames[4:] {
		assert.Equal(t, want, entries[4+i].Name)
	}
}

func TestBuildCredentialStrip(t *testing.T) {
	t.Parallel()

	creds := &StaticCredentials{
		Rights:        strings.Repeat("b", 32),
		PersonalToken: []byte("personal-token"),
		CommonToken:   []byte("common-token!!"),
		PersonalChain: []byte("chain"),
	}

	tokenBytes := func(b Behavior) []byte {
		cap := &Capture{}
		_, err := Build(context.Background(), &Plan{
			Name:        "creds.pack",
			Programs:    []Program{{Content: BytesSource(testutil.Pattern(8, 1))}},
			Credentials: creds,
		}, cap, WithBehavior(b))
		require.NoError(t, err)

		final := cap.Final()
		entries, err := List(bytes.NewReader(final))
		require.NoError(t, err)
		for _, e := range entries {
			if strings.HasSuffix(e.Name, ".token") {
				return final[e.Offset : e.Offset+e.Size]
			}
		}
		t.Fatal("no token entry")
		return nil
	}

	assert.Equal(t, []byte("personal-token"), tokenBytes(Behavior{}))
	assert.Equal(t, []byte("common-token!!"), tokenBytes(Behavior{StripPersonalizedCredentials: true}))
}

func TestBuildProvisionalIdentifierToggle(t *testing.T) {
	t.Parallel()

	prov, err := ParseID(strings.Repeat("c", 32))
	require.NoError(t, err)

	phase1Names := func(b Behavior) []string {
		cap := &Capture{}
		rep, err := Build(context.Background(), &Plan{
			Name:     "prov.pack",
			Programs: []Program{{Provisional: prov, Content: BytesSource(testutil.Pattern(8, 2))}},
		}, cap, WithBehavior(b))
		require.NoError(t, err)

		entries, err := List(bytes.NewReader(cap.Stream()[:rep.HeaderSize]))
		require.NoError(t, err)
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name
		}
		return names
	}

	assert.Equal(t, []string{zeroName + ".item"}, phase1Names(Behavior{}))
	assert.Equal(t, []string{prov.String() + ".item"},
		phase1Names(Behavior{EmitProvisionalIdentifiers: true}))
}

// failTransport fails a chosen call, passing everything else through.
type failTransport struct {
	Capture
	failBegin  bool
	failWrite  int // fail the nth Write call, 1-based; 0 disables
	failCommit bool
}

var errTransportDown = errors.New("transport down")

func (f *failTransport) Begin(name string, total, headerSize uint64) error {
	if f.failBegin {
		return errTransportDown
	}
	return f.Capture.Begin(name, total, headerSize)
}

func (f *failTransport) Write(p []byte) error {
	if f.failWrite > 0 && f.WriteCalls+1 == f.failWrite {
		return errTransportDown
	}
	return f.Capture.Write(p)
}

func (f *failTransport) CommitHeader(p []byte) error {
	if f.failCommit {
		return errTransportDown
	}
	return f.Capture.CommitHeader(p)
}

func TestBuildErrorPhases(t *testing.T) {
	t.Parallel()

	plan := func() *Plan {
		return &Plan{
			Name:     "fail.pack",
			Programs: []Program{{Content: BytesSource(testutil.Pattern(8, 3))}},
		}
	}

	tests := []struct {
		name  string
		tr    *failTransport
		phase Phase
	}{
		{"begin fails", &failTransport{failBegin: true}, PhaseUnsent},
		{"header write fails", &failTransport{failWrite: 1}, PhaseUnsent},
		{"content write fails", &failTransport{failWrite: 2}, PhaseProvisionalSent},
		{"commit fails", &failTransport{failCommit: true}, PhaseMetadataRegenerated},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(context.Background(), plan(), tc.tr)
			var be *BuildError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tc.phase, be.Phase)
			assert.ErrorIs(t, err, errTransportDown)
		})
	}
}

func TestBuildShortSource(t *testing.T) {
	t.Parallel()

	short := shortSource{declared: 10, actual: 4}
	cap := &Capture{}
	_, err := Build(context.Background(), &Plan{
		Name:     "short.pack",
		Programs: []Program{{Content: short}},
	}, cap)
	assert.ErrorIs(t, err, ErrShortSource)
	assert.Nil(t, cap.Committed)
}

type shortSource struct {
	declared uint64
	actual   int
}

func (s shortSource) Size() uint64 {
	return s.declared
}

func (s shortSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(make([]byte, s.actual))), nil
}

func TestBuildContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := testutil.Pattern(64, 5)

	cap := &Capture{}
	_, err := Build(ctx, &Plan{
		Name: "canceled.pack",
		Programs: []Program{{Content: &cancelingSource{
			data:   src,
			cancel: cancel,
		}}},
	}, cap, WithChunkSize(16))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, cap.Committed)
}

// cancelingSource cancels the build after the first read.
type cancelingSource struct {
	data   []byte
	cancel context.CancelFunc
}

func (s *cancelingSource) Size() uint64 {
	return uint64(len(s.data))
}

func (s *cancelingSource) Open(context.Context) (io.ReadCloser, error) {
	return &cancelingReader{r: bytes.NewReader(s.data), cancel: s.cancel}, nil
}

type cancelingReader struct {
	r      *bytes.Reader
	cancel context.CancelFunc
}

func (r *cancelingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.cancel()
	return n, err
}

func (r *cancelingReader) Close() error {
	return nil
}

func TestBuildValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		plan *Plan
	}{
		{"nil plan", nil},
		{"no name", &Plan{Programs: []Program{{Content: BytesSource(nil)}}}},
		{"no items", &Plan{Name: "x.pack"}},
		{"meta without renderer", &Plan{Name: "x.pack", Meta: &Meta{}}},
		{"program without source", &Plan{Name: "x.pack", Programs: []Program{{}}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(context.Background(), tc.plan, &Capture{})
			var be *BuildError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, PhaseUnsent, be.Phase)
		})
	}
}

func TestBuildProgress(t *testing.T) {
	t.Parallel()

	var stages []ProgressStage
	var lastDone uint64

	cap := &Capture{}
	rep, err := Build(context.Background(), &Plan{
		Name:     "progress.pack",
		Programs: []Program{{Content: BytesSource(testutil.Pattern(64, 6)), Descriptor: testDescriptor}},
		Meta:     &Meta{},
		Renderer: &stableRenderer{},
	}, cap,
		WithChunkSize(16),
		WithProgress(func(ev ProgressEvent) {
			stages = append(stages, ev.Stage)
			assert.GreaterOrEqual(t, ev.BytesDone, lastDone, "progress must be monotonic")
			lastDone = ev.BytesDone
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, StageProvisionalHeader, stages[0])
	assert.Equal(t, StageCommit, stages[len(stages)-1])
	assert.Contains(t, stages, StageContent)
	assert.Contains(t, stages, StageMetadata)
	assert.Contains(t, stages, StageAuxiliary)
	assert.Equal(t, rep.TotalSize-rep.HeaderSize, lastDone)
}

// waitTransport records whether WaitReady ran before Begin.
type waitTransport struct {
	Capture
	waited      bool
	beganBefore bool
}

func (w *waitTransport) WaitReady(ctx context.Context) error {
	w.waited = true
	return ctx.Err()
}

func (w *waitTransport) Begin(name string, total, headerSize uint64) error {
	w.beganBefore = !w.waited
	return w.Capture.Begin(name, total, headerSize)
}

func TestBuildWaitsForTransport(t *testing.T) {
	t.Parallel()

	tr := &waitTransport{}
	_, err := Build(context.Background(), &Plan{
		Name:     "wait.pack",
		Programs: []Program{{Content: BytesSource(testutil.Pattern(4, 7))}},
	}, tr)
	require.NoError(t, err)
	assert.True(t, tr.waited)
	assert.False(t, tr.beganBefore)
}
