package packstream

// Report summarizes a successful build.
type Report struct {
	// Name is the package name.
	Name string

	// HeaderSize is the committed header's size in bytes.
	HeaderSize uint64

	// TotalSize is the final package size, header included.
	TotalSize uint64

	// Records lists the finalized content items in stream order.
	Records []Record
}
