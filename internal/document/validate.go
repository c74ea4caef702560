package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// ValidatePDFPath checks that path names a readable PDF file.
func ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	return ValidatePDFHeader(file)
}

// ValidatePDFHeader checks that r starts with the PDF signature.
func ValidatePDFHeader(r io.Reader) error {
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return domain.ValidationError("file is too short to be a PDF", err)
	}
	if !bytes.Equal(head, pdfMagic) {
		return domain.ValidationError("file is not a PDF", nil)
	}
	return nil
}

// DigitalRatio returns the share of pages carrying at least minText characters.
func DigitalRatio(pages []string, minText int) float64 {
	if len(pages) == 0 {
		return 0
	}
	textPages := 0
	for _, p := range pages {
		if utf8.RuneCountInString(strings.TrimSpace(p)) >= minText {
			textPages++
		}
	}
	return float64(textPages) / float64(len(pages))
}
