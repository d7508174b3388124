// Package extract turns raw uploaded bytes into plain text for chunking.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"ragpipe/internal/util"

	"github.com/ledongthuc/pdf"
)

type Kind string

const (
	KindPDF  Kind = "pdf"
	KindText Kind = "text"
	KindCSV  Kind = "csv"
)

// Detect maps a MIME type, falling back to the file extension, onto an extractor kind.
func Detect(contentType, fileName string) (Kind, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf":
		return KindPDF, nil
	case "text/csv", "application/csv":
		return KindCSV, nil
	case "text/plain", "text/markdown", "text/x-markdown":
		return KindText, nil
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return KindPDF, nil
	case ".csv":
		return KindCSV, nil
	case ".txt", ".md", ".markdown":
		return KindText, nil
	}
	return "", fmt.Errorf("%w: %q", util.ErrUnsupportedType, contentType)
}

// Text extracts sanitized text. An empty result is returned as ErrNoExtractableText.
func Text(data []byte, contentType, fileName string) (string, error) {
	kind, err := Detect(contentType, fileName)
	if err != nil {
		return "", err
	}
	var text string
	switch kind {
	case KindPDF:
		text, err = pdfText(data)
	case KindCSV:
		var res CSVResult
		res, err = CSVToText(string(data), CSVOptions{IncludeHeaders: true})
		text = res.Text
	default:
		text = string(data)
	}
	if err != nil {
		return "", err
	}
	text = util.SanitizeText(text)
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}
