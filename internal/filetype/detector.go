package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const (
	MIMEDjVu = "image/vnd.djvu"
	MIMEPDF  = "application/pdf"
)

// Extensions of the DjVu family, lower case.
var djvuExtensions = map[string]bool{".djvu": true, ".djv": true}

// HasDjVuExtension reports whether name carries a DjVu-family extension.
func HasDjVuExtension(name string) bool {
	return djvuExtensions[strings.ToLower(filepath.Ext(name))]
}

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	info := &FileTypeInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	switch {
	case mtype.Is(MIMEDjVu):
		info.MIMEType = MIMEDjVu
		info.Supported = true
		info.Description = "DjVu document"
	case mtype.Is(MIMEPDF):
		info.MIMEType = MIMEPDF
		info.Description = "PDF document"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", filePath).Msg("detected file type")
	return info, nil
}

// IsDjVu reports whether the file content is a DjVu document.
func (d *Detector) IsDjVu(filePath string) (bool, error) {
	info, err := d.Detect(filePath)
	if err != nil {
		return false, err
	}
	return info.MIMEType == MIMEDjVu, nil
}

// IsPDF reports whether the file content starts like a PDF.
func (d *Detector) IsPDF(filePath string) (bool, error) {
	info, err := d.Detect(filePath)
	if err != nil {
		return false, err
	}
	return info.MIMEType == MIMEPDF, nil
}
