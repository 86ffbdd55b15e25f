package conv

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeHTML = "text/html"

	maxExtractSize = 10 << 20
)

var ErrUnsupportedDocument = errors.New("unsupported document type")

// DetectMime sniffs the file content and returns the bare media type.
func DetectMime(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime %s: %w", path, err)
	}
	mt, _, _ := strings.Cut(m.String(), ";")
	return strings.TrimSpace(mt), nil
}

// ExtractText returns the plain text of a PDF, DOCX, HTML or text document.
func ExtractText(path, mimeType string) (string, error) {
	if mimeType == "" {
		detected, err := DetectMime(path)
		if err != nil {
			return "", err
		}
		mimeType = detected
	}

	switch {
	case mimeType == MimePDF:
		return pdfText(path)
	case mimeType == MimeDOCX:
		return docxText(path)
	case mimeType == MimeHTML:
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return HTMLToText(io.LimitReader(f, maxExtractSize))
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/xml":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, mimeType)
	}
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(plain, maxExtractSize)); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// docxText walks word/document.xml collecting runs, one line per paragraph.
func docxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return wordprocessingText(io.LimitReader(rc, maxExtractSize))
	}
	return "", fmt.Errorf("open docx: word/document.xml missing")
}

func wordprocessingText(r io.Reader) (string, error) {
	var (
		sb     strings.Builder
		inText bool
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
