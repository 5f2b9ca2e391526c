// Package markdown renders conversation transcripts.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var md goldmark.Markdown

func init() {
	md = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
}

// Turn is one message of a transcript.
type Turn struct {
	Role        string
	Content     string
	Attachments []string
	At          time.Time
}

// Transcript builds a markdown document for a conversation.
func Transcript(title string, turns []Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, t := range turns {
		heading := "Model"
		if t.Role == "user" {
			heading = "User"
		}
		fmt.Fprintf(&b, "\n## %s", heading)
		if !t.At.IsZero() {
			fmt.Fprintf(&b, " · %s", t.At.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(t.Content))
		b.WriteString("\n")
		for _, name := range t.Attachments {
			fmt.Fprintf(&b, "\n> attachment: `%s`\n", name)
		}
	}
	return b.String()
}

// Render converts markdown content to HTML with GFM extensions and
// syntax highlighting. Raw HTML in model output is escaped.
func Render(content string) string {
	if content == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return ""
	}
	return processExternalLinks(buf.String())
}

// RenderPage wraps the rendered transcript in a standalone HTML document.
func RenderPage(title string, turns []Turn) string {
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" +
		escapeTitle(title) + "</title></head>\n<body>\n" +
		Render(Transcript(title, turns)) + "</body></html>\n"
}

var titleEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeTitle(s string) string {
	return titleEscaper.Replace(s)
}

var linkRe = regexp.MustCompile(`<a href="(https?://[^"]*)"`)

// processExternalLinks adds target="_blank" rel="noopener noreferrer" to external links.
func processExternalLinks(s string) string {
	return linkRe.ReplaceAllStringFunc(s, func(match string) string {
		return match + ` target="_blank" rel="noopener noreferrer"`
	})
}
