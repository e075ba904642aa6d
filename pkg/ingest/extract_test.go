package ingest

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tomehq/tome/pkg/errdefs"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestDetectRefinesTextTypes(t *testing.T) {
	r := NewRegistry(4)

	cases := []struct {
		name     string
		filename string
		data     []byte
		want     string
	}{
		{"markdown by extension", "guide.md", []byte("# Reset\n\nHold the button."), "text/markdown"},
		{"plain text", "notes.txt", []byte("just some notes"), "text/plain"},
		{"html by magic", "page.bin", []byte("<!DOCTYPE html><html><body><p>hi</p></body></html>"), "text/html"},
		{"json", "payload", []byte(`{"status": "ok"}`), "application/json"},
		{"source code as text", "main.go", []byte("package main\n\nfunc main() {}\n"), "text/plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Detect(tc.filename, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectRejectsUnsupported(t *testing.T) {
	r := NewRegistry(4)

	_, err := r.Detect("diagram.png", pngHeader)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedType)
}

func TestDetectIgnoresClaimedExtension(t *testing.T) {
	r := NewRegistry(4)

	// A PNG renamed to .txt is still a PNG.
	_, err := r.Detect("innocent.txt", pngHeader)
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedType)
}

func TestExtractMarkdownSections(t *testing.T) {
	md := strings.Join([]string{
		"# User Guide",
		"",
		"Welcome to the product.",
		"",
		"## Installation",
		"",
		"Run the installer.",
		"",
		"```",
		"# not a heading, just a shell comment",
		"make install",
		"```",
		"",
		"## Troubleshooting",
		"",
		"Check the logs.",
	}, "\n")

	ex := extractMarkdown(md)
	assert.Equal(t, "User Guide", ex.Title)
	require.Len(t, ex.Sections, 3)
	assert.Equal(t, "User Guide", ex.Sections[0].Heading)
	assert.Contains(t, ex.Sections[0].Text, "Welcome")
	assert.Equal(t, "Installation", ex.Sections[1].Heading)
	assert.Contains(t, ex.Sections[1].Text, "make install")
	assert.Contains(t, ex.Sections[1].Text, "not a heading")
	assert.Equal(t, "Troubleshooting", ex.Sections[2].Heading)
}

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html><head><title>Reset Procedure</title></head>
<body>
<article>
<h1>Reset Procedure</h1>
<p>To reset the device, hold the power button for ten seconds. The light
will blink three times and the device will restart with factory settings
applied to every profile.</p>
<p>If the light does not blink, check the power supply first and try the
procedure again after a full charge cycle completes.</p>
<img src="data:image/png;base64,iVBORw0KGgoAAA==" alt="panel"/>
</article>
</body></html>`

	_, ex, err := NewRegistry(4).Extract("reset.html", []byte(html))
	require.NoError(t, err)
	require.NotEmpty(t, ex.Sections)

	var all strings.Builder
	for _, s := range ex.Sections {
		all.WriteString(s.Text)
		all.WriteString(s.Heading)
	}
	assert.Contains(t, all.String(), "hold the power button")
	assert.Len(t, ex.Images, 1)
	assert.Contains(t, ex.Images[0], "data:image/png;base64")
}

func TestExtractCSV(t *testing.T) {
	data := []byte("name,team\nanna,core\nbea,infra\n")

	mediaType, ex, err := NewRegistry(4).Extract("members.csv", data)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", mediaType)
	require.Len(t, ex.Sections, 1)
	assert.Contains(t, ex.Sections[0].Text, "name | team")
	assert.Contains(t, ex.Sections[0].Text, "bea | infra")
}

func TestExtractXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "region"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "revenue"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "emea"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 1200))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ex, err := xlsxExtractor{}.Extract(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, ex.Sections, 1)
	assert.Equal(t, "Sheet1", ex.Sections[0].Heading)
	assert.Contains(t, ex.Sections[0].Text, "region | revenue")
	assert.Contains(t, ex.Sections[0].Text, "emea | 1200")
}

func TestExtractDOCX(t *testing.T) {
	docXML := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:pPr><w:pStyle w:val="Title"/></w:pPr><w:r><w:t>Support Handbook</w:t></w:r></w:p>
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Escalation</w:t></w:r></w:p>
    <w:p><w:r><w:t>Page the on-call engineer.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Include the</w:t></w:r><w:r><w:t xml:space="preserve"> ticket id.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(docXML))
	require.NoError(t, err)
	img, err := zw.Create("word/media/image1.png")
	require.NoError(t, err)
	_, err = img.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ex, err := docxExtractor{}.Extract(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Support Handbook", ex.Title)

	var escalation *Section
	for i := range ex.Sections {
		if ex.Sections[i].Heading == "Escalation" {
			escalation = &ex.Sections[i]
		}
	}
	require.NotNil(t, escalation, "expected an Escalation section")
	assert.Contains(t, escalation.Text, "Page the on-call engineer.")
	assert.Contains(t, escalation.Text, "Include the ticket id.")

	require.Len(t, ex.Images, 1)
	assert.Contains(t, ex.Images[0], "data:image/png;base64")
}

func TestExtractDOCXRejectsNonArchive(t *testing.T) {
	_, err := docxExtractor{}.Extract([]byte("definitely not a zip"))
	require.Error(t, err)
}

func TestExtractPDFRejectsGarbage(t *testing.T) {
	// Valid magic, broken body: extraction must fail cleanly, panic included.
	_, err := pdfExtractor{}.Extract([]byte("%PDF-1.4\nnot really a pdf"))
	require.Error(t, err)
}

func TestRegistryCapsImages(t *testing.T) {
	r := NewRegistry(1)
	html := `<html><body><p>Two screenshots follow in this short troubleshooting note.</p>
<img src="data:image/png;base64,aaaa"/><img src="data:image/png;base64,bbbb"/></body></html>`

	_, ex, err := r.Extract("shots.html", []byte(html))
	require.NoError(t, err)
	assert.Len(t, ex.Images, 1)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a\nb\nc", normalizeText([]byte("a\r\nb\rc\n")))
	assert.Contains(t, normalizeText([]byte{'o', 'k', 0xff, 0xfe}), "ok")
}
