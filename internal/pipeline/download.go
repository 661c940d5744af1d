package pipeline

import (
	"math"
	"path"
	"strconv"
	"strings"
)

// DownloadPrefix is prepended to every downloaded file name.
const DownloadPrefix = "shrunk-"

// Savings compares the output size of a file with its source size.
type Savings struct {
	Original   int64   `json:"original"`
	Output     int64   `json:"output"`
	Reduction  int64   `json:"reduction"`
	Percentage float64 `json:"percentage"` // rounded to one decimal
	Increase   bool    `json:"increase"`   // output strictly larger than source
}

// ComputeSavings reports zero savings when output is not smaller than original.
func ComputeSavings(original, output int64) Savings {
	s := Savings{Original: original, Output: output}
	if output >= original {
		s.Increase = output > original
		return s
	}
	s.Reduction = original - output
	s.Percentage = math.Round(1000*float64(s.Reduction)/float64(original)) / 10
	return s
}

// PercentString formats the percentage with one decimal, e.g. "60.0".
func (s Savings) PercentString() string {
	return strconv.FormatFloat(s.Percentage, 'f', 1, 64)
}

// DownloadName derives the output file name: the prefix plus the original
// name, with the extension swapped when the target format's extension differs.
// Extensions compare case-insensitively, so "photo.jpeg" -> "shrunk-photo.jpg".
func DownloadName(original string, target Format) string {
	base := path.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := path.Ext(base)
	want := target.Extension()
	if strings.EqualFold(ext, want) {
		return DownloadPrefix + base
	}
	return DownloadPrefix + strings.TrimSuffix(base, ext) + want
}

// Download is a prepared artifact for one Done file.
type Download struct {
	Name     string
	MIMEType string
	Data     []byte
	Savings  Savings
}

// PrepareDownload builds the artifact for f. f must be Done. Name and type
// follow the format the output was produced for, not the current setting.
func PrepareDownload(f File) (Download, error) {
	if f.Status != StatusDone {
		return Download{}, ErrNotReady
	}
	format := f.OutputFormat
	if format == "" {
		format = f.Format
	}
	mimeType := format.MIMEType()
	if f.AlreadyOptimized && f.MIMEType != "" {
		// The bytes are the original ones; the name still follows the target format.
		mimeType = f.MIMEType
	}
	return Download{
		Name:     DownloadName(f.Name, format),
		MIMEType: mimeType,
		Data:     f.Output,
		Savings:  ComputeSavings(f.SourceSize, f.OutputSize),
	}, nil
}

// PrepareDownload builds the artifact for file id.
func (p *Pipeline) PrepareDownload(id string) (Download, error) {
	f, ok := p.File(id)
	if !ok {
		return Download{}, ErrNotFound
	}
	return PrepareDownload(f)
}
