package filetype

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// MIMEPDF is the only media type the service accepts.
const MIMEPDF = "application/pdf"

// Info contains detected file type information.
type Info struct {
	MIMEType  string
	Extension string
	Supported bool
}

// Detector detects content types from magic bytes, not from file names.
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// DeclaredPDF reports whether a declared Content-Type header names a PDF.
// Parameters such as charset are ignored.
func DeclaredPDF(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.EqualFold(strings.TrimSpace(contentType), MIMEPDF)
	}
	return mt == MIMEPDF
}

// Detect sniffs the head of r. The returned reader replays the sniffed bytes
// followed by the remainder of r so the caller can still consume everything.
func (d *Detector) Detect(r io.Reader) (*Info, io.Reader, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, fmt.Errorf("failed to read upload header: %w", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	info := &Info{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
		Supported: mtype.Is(MIMEPDF),
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Msg("detected file type")

	return info, io.MultiReader(bytes.NewReader(head), r), nil
}

