package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/gabriel-vasile/mimetype"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/tomehq/tome/pkg/errdefs"
)

// Section is one span of extracted text. Page is 1-based for paginated
// formats (PDF) and zero otherwise; Heading is the nearest enclosing
// heading for formats that have them.
type Section struct {
	Text    string
	Heading string
	Page    int
}

// Extraction is the text and auxiliary content pulled out of one document.
type Extraction struct {
	Title    string
	Sections []Section
	Images   []string
}

// Extractor turns raw document bytes into sections of plain text.
type Extractor interface {
	Extract(data []byte) (*Extraction, error)
}

// Registry maps detected media types to extractors. Detection reads magic
// bytes, never the client-declared content type; the filename only refines
// text detections that magic bytes cannot tell apart (markdown vs plain).
type Registry struct {
	byType    map[string]Extractor
	maxImages int
}

// NewRegistry creates a registry with every built-in extractor installed.
// maxImages caps how many embedded images one document may contribute.
func NewRegistry(maxImages int) *Registry {
	r := &Registry{byType: make(map[string]Extractor), maxImages: maxImages}
	r.Register("text/plain", plainExtractor{})
	r.Register("text/markdown", markdownExtractor{})
	r.Register("text/html", htmlExtractor{})
	r.Register("text/csv", csvExtractor{comma: ','})
	r.Register("text/tab-separated-values", csvExtractor{comma: '\t'})
	r.Register("application/json", plainExtractor{})
	r.Register("text/xml", plainExtractor{})
	r.Register("application/pdf", pdfExtractor{})
	r.Register("application/vnd.openxmlformats-officedocument.wordprocessingml.document", docxExtractor{})
	r.Register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", xlsxExtractor{})
	return r
}

// Register installs an extractor for a media type, replacing any existing one.
func (r *Registry) Register(mediaType string, ext Extractor) {
	r.byType[mediaType] = ext
}

// Detect returns the media type of data, or ErrUnsupportedType when no
// installed extractor can handle it. The walk climbs the detected type's
// parents, so anything that is fundamentally text lands on the plain
// extractor even if its specific type has none.
func (r *Registry) Detect(filename string, data []byte) (string, error) {
	detected := mimetype.Detect(data)
	mediaType := refineType(filename, baseType(detected.String()))
	for mt := detected; mt != nil; mt = mt.Parent() {
		if _, ok := r.byType[baseType(mt.String())]; ok {
			return mediaType, nil
		}
	}
	if _, ok := r.byType[mediaType]; ok {
		return mediaType, nil
	}
	return "", fmt.Errorf("no extractor for %s: %w", mediaType, errdefs.ErrUnsupportedType)
}

// Extract detects the media type and runs the matching extractor. The
// returned extraction has its image list capped to the registry limit.
func (r *Registry) Extract(filename string, data []byte) (string, *Extraction, error) {
	mediaType, err := r.Detect(filename, data)
	if err != nil {
		return "", nil, err
	}
	ext := r.lookup(mediaType)
	if ext == nil {
		return "", nil, fmt.Errorf("no extractor for %s: %w", mediaType, errdefs.ErrUnsupportedType)
	}
	extraction, err := ext.Extract(data)
	if err != nil {
		return mediaType, nil, fmt.Errorf("failed to extract %s: %w", mediaType, err)
	}
	if r.maxImages >= 0 && len(extraction.Images) > r.maxImages {
		extraction.Images = extraction.Images[:r.maxImages]
	}
	return mediaType, extraction, nil
}

func (r *Registry) lookup(mediaType string) Extractor {
	if ext, ok := r.byType[mediaType]; ok {
		return ext
	}
	for mt := mimetype.Lookup(mediaType); mt != nil; mt = mt.Parent() {
		if ext, ok := r.byType[baseType(mt.String())]; ok {
			return ext
		}
	}
	// Refined types (markdown from a .md file) are not in the mimetype
	// database; anything refined from text is still text.
	if ext, ok := r.byType["text/plain"]; ok && strings.HasPrefix(mediaType, "text/") {
		return ext
	}
	return nil
}

// baseType strips parameters: "text/plain; charset=utf-8" -> "text/plain".
func baseType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.TrimSpace(mediaType)
}

// refineType upgrades a plain-text detection using the filename extension.
// Magic bytes cannot distinguish markdown or source code from plain text.
func refineType(filename, detected string) string {
	if detected != "text/plain" {
		return detected
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".tsv":
		return "text/tab-separated-values"
	}
	return detected
}

// Plain text

type plainExtractor struct{}

func (plainExtractor) Extract(data []byte) (*Extraction, error) {
	text := normalizeText(data)
	if text == "" {
		return &Extraction{}, nil
	}
	return &Extraction{Sections: []Section{{Text: text}}}, nil
}

// Markdown

type markdownExtractor struct{}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)

func (markdownExtractor) Extract(data []byte) (*Extraction, error) {
	return extractMarkdown(normalizeText(data)), nil
}

// extractMarkdown splits markdown into sections at headings. The first
// top-level heading becomes the document title. Headings inside fenced
// code blocks are left alone.
func extractMarkdown(text string) *Extraction {
	ex := &Extraction{}
	var (
		current  Section
		inFence  bool
		hasBody  bool
		titleSet bool
	)
	flush := func() {
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" || current.Heading != "" {
			ex.Sections = append(ex.Sections, current)
		}
		current = Section{}
		hasBody = false
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			current.Text += line + "\n"
			hasBody = true
			continue
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				if hasBody || current.Heading != "" {
					flush()
				}
				current.Heading = m[2]
				if !titleSet && len(m[1]) == 1 {
					ex.Title = m[2]
					titleSet = true
				}
				continue
			}
		}
		current.Text += line + "\n"
		if trimmed != "" {
			hasBody = true
		}
	}
	flush()
	return ex
}

// HTML

type htmlExtractor struct{}

// localBase anchors relative URLs when ingesting uploaded HTML files that
// have no origin. The scraper never hits this path; it converts pages with
// their real URL before handing them to ingest.
var localBase, _ = url.Parse("https://localhost/")

var dataImageRe = regexp.MustCompile(`data:image/[a-zA-Z.+-]+;base64,[A-Za-z0-9+/=]+`)

func (htmlExtractor) Extract(data []byte) (*Extraction, error) {
	title, content := readableContent(data)
	md, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to convert html: %w", err)
	}
	ex := extractMarkdown(md)
	if ex.Title == "" {
		ex.Title = title
	}
	for _, img := range dataImageRe.FindAllString(string(data), -1) {
		if len(img) <= maxImageBytes*4/3 {
			ex.Images = append(ex.Images, img)
		}
	}
	return ex, nil
}

// readableContent boils a page down to its article body. Pages readability
// cannot make sense of (tables of links, reference pages) fall back to the
// full markup so extraction still yields something.
func readableContent(data []byte) (title, content string) {
	article, err := readability.FromReader(bytes.NewReader(data), localBase)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return "", string(data)
	}
	return article.Title, article.Content
}

// CSV

type csvExtractor struct {
	comma rune
}

func (e csvExtractor) Extract(data []byte) (*Extraction, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = e.comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	var b strings.Builder
	for _, record := range records {
		b.WriteString(strings.Join(record, " | "))
		b.WriteByte('\n')
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return &Extraction{}, nil
	}
	return &Extraction{Sections: []Section{{Text: text}}}, nil
}

// PDF

type pdfExtractor struct{}

// Extract reads text page by page so chunks keep their page numbers.
// The parser panics on some malformed files; the recover turns that into
// an ordinary extraction failure.
func (pdfExtractor) Extract(data []byte) (ex *Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			ex, err = nil, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	ex = &Extraction{}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Usually an unembedded font; the rest of the document is
			// still worth having.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		ex.Sections = append(ex.Sections, Section{Text: text, Page: i})
	}
	if len(ex.Sections) == 0 {
		return nil, fmt.Errorf("no extractable text in pdf")
	}
	return ex, nil
}

// DOCX

type docxExtractor struct{}

func (docxExtractor) Extract(data []byte) (*Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}
	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read docx body: %w", err)
	}
	defer rc.Close()

	ex, err := parseDocxBody(rc)
	if err != nil {
		return nil, err
	}
	ex.Images = docxImages(zr)
	return ex, nil
}

// parseDocxBody walks WordprocessingML pulling paragraph text. Paragraphs
// styled Heading* or Title open a new section; Title also names the
// document.
func parseDocxBody(r io.Reader) (*Extraction, error) {
	dec := xml.NewDecoder(r)
	ex := &Extraction{}
	var (
		current   Section
		paragraph strings.Builder
		parStyle  string
		inText    bool
	)
	flushSection := func() {
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" || current.Heading != "" {
			ex.Sections = append(ex.Sections, current)
		}
		current = Section{}
	}
	endParagraph := func() {
		text := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		style := parStyle
		parStyle = ""
		if text == "" {
			return
		}
		switch {
		case style == "Title":
			if ex.Title == "" {
				ex.Title = text
			}
			flushSection()
			current.Heading = text
		case strings.HasPrefix(style, "Heading"):
			flushSection()
			current.Heading = text
		default:
			current.Text += text + "\n"
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						parStyle = attr.Value
					}
				}
			case "tab":
				paragraph.WriteByte('\t')
			case "br":
				paragraph.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				endParagraph()
			}
		case xml.CharData:
			if inText {
				paragraph.Write(t)
			}
		}
	}
	endParagraph()
	flushSection()
	return ex, nil
}

// maxImageBytes skips pathological embedded media; screenshots in support
// documents are far smaller.
const maxImageBytes = 2 << 20

func docxImages(zr *zip.Reader) []string {
	var images []string
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "word/media/") {
			continue
		}
		if f.UncompressedSize64 > maxImageBytes {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(rc, maxImageBytes))
		rc.Close()
		if err != nil || len(raw) == 0 {
			continue
		}
		mt := mimetype.Detect(raw)
		if !strings.HasPrefix(mt.String(), "image/") {
			continue
		}
		images = append(images, fmt.Sprintf("data:%s;base64,%s",
			baseType(mt.String()), base64.StdEncoding.EncodeToString(raw)))
	}
	return images
}

// XLSX

type xlsxExtractor struct{}

func (xlsxExtractor) Extract(data []byte) (*Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	ex := &Extraction{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		ex.Sections = append(ex.Sections, Section{Text: text, Heading: sheet})
	}
	return ex, nil
}

// normalizeText repairs invalid UTF-8 and normalizes line endings.
func normalizeText(data []byte) string {
	data = bytes.ToValidUTF8(data, []byte("�"))
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	return strings.TrimSpace(string(data))
}
