// Package packstream assembles single-file archive packages and streams
// them over a byte-oriented transport without ever holding the whole
// output in memory or on local storage.
//
// The difficulty the package exists for: content identifiers and digests
// are derived from bytes that are themselves patched and transmitted on
// the fly, so parts of the header are unknown until after the header's
// position in the stream has already passed. A build therefore sends a
// provisional header first, streams every content item through a
// patch/hash pipeline, regenerates the metadata item once all identifiers
// are final, and then commits the corrected header over the region sent
// in phase one. The header commit is the only success point; anything
// less leaves the receiver with an unusable artifact.
//
// # Quick Start
//
// Build a package into a local file:
//
//	tr, err := packstream.CreateFile("out.pack")
//	if err != nil {
//	    return err
//	}
//	defer tr.Close()
//
//	report, err := packstream.Build(ctx, &packstream.Plan{
//	    Name:     "out.pack",
//	    Programs: []packstream.Program{{Content: src}},
//	    Meta:     &packstream.Meta{},
//	    Renderer: manifest.NewRenderer("out.pack"),
//	}, tr)
//
// Stream to a remote receiver instead by swapping the transport for a
// [wire] client; the receiver side is [wire.Receive].
//
// # Behavior toggles
//
// Content transformation is controlled by an explicit [Behavior] struct
// passed via [WithBehavior]: provisional identifier emission, credential
// personalization stripping, content patch application, and signing
// material rewrites. All default to off.
package packstream
