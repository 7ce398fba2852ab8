package core

// Content is the payload of one snapshot. It is either textual or binary;
// the set of implementations is closed.
type Content interface {
	// IsBinary reports whether the content is file-backed binary data.
	IsBinary() bool

	isContent()
}

// TextualContent is in-memory text.
type TextualContent struct {
	String string
}

// IsBinary implements Content.
func (TextualContent) IsBinary() bool { return false }

func (TextualContent) isContent() {}

// BinaryContent refers to a file on disk. Two binary contents are the same
// when they point to the same underlying file, not when their bytes match.
type BinaryContent struct {
	Filename string
}

// IsBinary implements Content.
func (BinaryContent) IsBinary() bool { return true }

func (BinaryContent) isContent() {}

// NewContent creates textual content from a string, or binary content from
// a filename when binary is set.
func NewContent(value string, binary bool) Content {
	if binary {
		return BinaryContent{Filename: value}
	}
	return TextualContent{String: value}
}
