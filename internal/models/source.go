package models

import (
	"strings"

	"ragpipe/internal/util"
)

type SourceKind string

const (
	SourceUpload     SourceKind = "upload"
	SourceScrape     SourceKind = "scrape"
	SourceCorrection SourceKind = "correction"
)

// Source records which producer created a document. Exactly one payload matching Kind is set.
type Source struct {
	Kind       SourceKind        `json:"kind"`
	Upload     *UploadSource     `json:"upload,omitempty"`
	Scrape     *ScrapeSource     `json:"scrape,omitempty"`
	Correction *CorrectionSource `json:"correction,omitempty"`
}

type UploadSource struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	StoragePath string `json:"storage_path"`
	SizeBytes   int64  `json:"size_bytes"`
}

type ScrapeSource struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type CorrectionSource struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s Source) Validate() error {
	set := 0
	for _, p := range []bool{s.Upload != nil, s.Scrape != nil, s.Correction != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return util.Invalid("source", "exactly one source payload is required")
	}
	switch s.Kind {
	case SourceUpload:
		if s.Upload == nil {
			return util.Invalid("source", "upload payload missing")
		}
		if strings.TrimSpace(s.Upload.FileName) == "" || strings.TrimSpace(s.Upload.StoragePath) == "" {
			return util.Invalid("source.upload", "file_name and storage_path are required")
		}
	case SourceScrape:
		if s.Scrape == nil {
			return util.Invalid("source", "scrape payload missing")
		}
		if strings.TrimSpace(s.Scrape.URL) == "" {
			return util.Invalid("source.scrape", "url is required")
		}
	case SourceCorrection:
		if s.Correction == nil {
			return util.Invalid("source", "correction payload missing")
		}
		if strings.TrimSpace(s.Correction.Question) == "" || strings.TrimSpace(s.Correction.Answer) == "" {
			return util.Invalid("source.correction", "question and answer are required")
		}
	default:
		return util.Invalid("source.kind", "unknown source kind "+string(s.Kind))
	}
	return nil
}

// DisplayName is what retrieval shows as the origin of a chunk.
func (s Source) DisplayName() string {
	switch {
	case s.Upload != nil:
		return s.Upload.FileName
	case s.Scrape != nil:
		if s.Scrape.Title != "" {
			return s.Scrape.Title
		}
		return s.Scrape.URL
	case s.Correction != nil:
		return "correction"
	}
	return "unknown"
}

// Text renders inline content for producers that do not upload a file.
func (s Source) Text() string {
	if s.Correction != nil {
		return "Question: " + s.Correction.Question + "\nAnswer: " + s.Correction.Answer
	}
	return ""
}
