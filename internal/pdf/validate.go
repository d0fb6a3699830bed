package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"

	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

const minFileSize = 1024

var pdfMagic = []byte("%PDF-")

// Validate checks the PDF header and size limits of an in-memory document.
func Validate(documentID string, data []byte, maxSize int64) error {
	if int64(len(data)) < minFileSize {
		return apperrors.NewInvalidDocumentError(documentID, fmt.Sprintf("file too small (%d bytes)", len(data)), nil)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return apperrors.NewInvalidDocumentError(documentID, fmt.Sprintf("file exceeds %d bytes", maxSize), nil)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return apperrors.NewInvalidDocumentError(documentID, "missing %PDF- header", nil)
	}
	return nil
}

// ValidateFile applies Validate's rules to a file on disk without reading it whole.
func ValidateFile(documentID, path string, maxSize int64) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.NewInvalidDocumentError(documentID, "cannot open file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperrors.NewInvalidDocumentError(documentID, "cannot stat file", err)
	}
	if info.IsDir() {
		return apperrors.NewInvalidDocumentError(documentID, "path is a directory", nil)
	}
	if info.Size() < minFileSize {
		return apperrors.NewInvalidDocumentError(documentID, fmt.Sprintf("file too small (%d bytes)", info.Size()), nil)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return apperrors.NewInvalidDocumentError(documentID, fmt.Sprintf("file exceeds %d bytes", maxSize), nil)
	}

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return apperrors.NewInvalidDocumentError(documentID, "cannot read header", err)
	}
	if !bytes.Equal(header, pdfMagic) {
		return apperrors.NewInvalidDocumentError(documentID, "missing %PDF- header", nil)
	}
	return nil
}
