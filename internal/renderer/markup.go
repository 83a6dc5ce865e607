package renderer

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/spherical/preview-extractor/internal/domain"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithXHTML()),
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// renderPDF emits each page of the PDF as its own single-page PDF, then the
// whole document.
func (p *producer) renderPDF() error {
	conf := relaxedConfig()
	data := p.l.data

	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return fmt.Errorf("count pages: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document has no pages")
	}

	for i := 0; i < n; i++ {
		var page bytes.Buffer
		if err := api.Trim(bytes.NewReader(data), &page, []string{strconv.Itoa(i + 1)}, conf); err != nil {
			return fmt.Errorf("split page %d: %w", i, err)
		}
		ev := domain.RendererEvent{
			Type:          domain.RendererPagePreviewed,
			PageIndex:     i,
			Region:        page.Bytes(),
			ExpectedPages: n,
		}
		if !p.emit(ev) {
			return nil
		}
	}

	p.emit(domain.RendererEvent{
		Type:          domain.RendererDocumentReady,
		Region:        domain.Region(data).Clone(),
		ExpectedPages: n,
	})
	return nil
}

// renderMarkup lays the document out with MuPDF and emits every page as a
// PNG metafile.
func (p *producer) renderMarkup() error {
	source, name, err := markupSource(p.l.kind, p.l.data, p.l.title, p.settings)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "preview-extractor-*")
	if err != nil {
		return domain.IOError("Failed to create temp directory", err)
	}
	defer os.RemoveAll(dir)

	docPath := filepath.Join(dir, name)
	if err := os.WriteFile(docPath, source, 0o600); err != nil {
		return domain.IOError("Failed to write layout source", err)
	}

	doc, err := fitz.New(docPath)
	if err != nil {
		return domain.ConversionError("Failed to lay out document", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return fmt.Errorf("layout produced no pages")
	}
	p.logger.Debug().Int("pages", n).Str("kind", p.l.kind.String()).Msg("Document laid out")

	for i := 0; i < n; i++ {
		metafile, err := doc.ImagePNG(i, float64(p.settings.DPI))
		if err != nil {
			return domain.ConversionError(fmt.Sprintf("Failed to render page %d", i), err)
		}
		ev := domain.RendererEvent{
			Type:          domain.RendererPagePreviewed,
			PageIndex:     i,
			Region:        metafile,
			ExpectedPages: n,
		}
		if !p.emit(ev) {
			return nil
		}
	}

	p.emit(domain.RendererEvent{Type: domain.RendererDocumentReady, ExpectedPages: n})
	return nil
}

// markupSource returns the bytes MuPDF should lay out and the file name
// whose extension selects its parser.
func markupSource(kind Kind, data []byte, title string, settings domain.PrintSettings) ([]byte, string, error) {
	if kind == KindHTML {
		return data, "document.html", nil
	}

	var body bytes.Buffer
	if err := markdown.Convert(data, &body); err != nil {
		return nil, "", domain.ConversionError("Failed to convert markdown", err)
	}

	width, height := settings.PageWidthMicrons, settings.PageHeightMicrons
	if settings.Landscape {
		width, height = height, width
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title>%s</title>
<style>
@page { size: %.1fmm %.1fmm; margin: %s; }
body { font-family: serif; font-size: 11pt; }
pre, code { font-family: monospace; }
table { border-collapse: collapse; }
td, th { border: 1px solid #888; padding: 2pt 4pt; }
</style>
</head>
<body>
`, html.EscapeString(title), float64(width)/1000, float64(height)/1000, pageMargin(settings.MarginsType))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), "document.xhtml", nil
}

func pageMargin(m domain.MarginType) string {
	switch m {
	case domain.MarginsNone:
		return "0"
	case domain.MarginsMinimum:
		return "5mm"
	default:
		return "15mm"
	}
}

// documentTitle picks the first heading of a Markdown document, the <title>
// of an HTML document, or the file name.
func documentTitle(kind Kind, data []byte, docURL string) string {
	switch kind {
	case KindMarkdown:
		if t := markdownTitle(data); t != "" {
			return t
		}
	case KindHTML:
		if m := titlePattern.FindSubmatch(data); m != nil {
			if t := strings.TrimSpace(html.UnescapeString(string(m[1]))); t != "" {
				return t
			}
		}
	}

	if u, err := url.Parse(docURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return docURL
}

func markdownTitle(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title = strings.TrimSpace(string(h.Text(src)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}
