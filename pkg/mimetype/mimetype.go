package mimetype

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// sniffLen is the number of leading bytes the matchers need.
const sniffLen int = 262

// Tag is a two-part MIME classification.
type Tag struct {
	Top string
	Sub string
}

func (t Tag) String() string {
	return t.Top + "/" + t.Sub
}

// Classify sniffs the file content and returns its MIME tag. Files the
// matchers do not recognize come back as application/octet-stream.
func Classify(path string) (Tag, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Tag{}, fmt.Errorf("classify %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Tag{}, fmt.Errorf("classify %s: %w", path, err)
	}
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return Tag{}, fmt.Errorf("classify %s: %w", path, err)
	}
	if kind == filetype.Unknown {
		return Tag{Top: "application", Sub: "octet-stream"}, nil
	}
	parts := strings.SplitN(kind.MIME.Value, "/", 2)
	if len(parts) != 2 {
		return Tag{Top: kind.MIME.Type, Sub: kind.MIME.Subtype}, nil
	}
	return Tag{Top: parts[0], Sub: parts[1]}, nil
}

// AllowSet decides admissibility of classified files.
type AllowSet map[Tag]struct{}

// NewImageAllowSet builds an allow-set of image subtypes
// (e.g. jpeg, png, tiff).
func NewImageAllowSet(subs []string) AllowSet {
	s := make(AllowSet, len(subs))
	for _, sub := range subs {
		s[Tag{Top: "image", Sub: strings.ToLower(sub)}] = struct{}{}
	}
	return s
}

// Has reports whether the tag is admissible.
func (s AllowSet) Has(tag Tag) bool {
	_, ok := s[tag]
	return ok
}
