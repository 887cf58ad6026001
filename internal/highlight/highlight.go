// Package highlight renders paste content as syntax highlighted HTML.
package highlight

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// DefaultStyle is used when no style is configured or the name is unknown.
const DefaultStyle = "monokai"

// ErrNoLexer is returned when no lexer matches the hint or the content.
var ErrNoLexer = errors.New("no lexer for content")

// Result is highlighted markup plus the stylesheet it depends on.
type Result struct {
	Markup   string
	CSS      string
	Language string
}

// Highlighter renders content with chroma.
type Highlighter struct {
	style     *chroma.Style
	formatter *html.Formatter
}

// Options configure a Highlighter.
type Options struct {
	Style       string
	LineNumbers bool
}

// New returns a Highlighter using the named chroma style.
func New(opts Options) *Highlighter {
	name := opts.Style
	if name == "" {
		name = DefaultStyle
	}
	style := styles.Get(name)
	if style == nil {
		style = styles.Fallback
	}
	formatterOpts := []html.Option{html.WithClasses(true), html.TabWidth(4)}
	if opts.LineNumbers {
		formatterOpts = append(formatterOpts, html.WithLineNumbers(true), html.WithLinkableLineNumbers(true, "L"))
	}
	return &Highlighter{
		style:     style,
		formatter: html.New(formatterOpts...),
	}
}

// Highlight renders content. hint names a language, alias or file
// extension; an empty hint selects the lexer by analysing content.
func (h *Highlighter) Highlight(content, hint string) (Result, error) {
	lexer := pick(content, strings.TrimSpace(hint))
	if lexer == nil {
		return Result{}, ErrNoLexer
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, content)
	if err != nil {
		return Result{}, fmt.Errorf("tokenise: %w", err)
	}
	var markup bytes.Buffer
	if err := h.formatter.Format(&markup, h.style, it); err != nil {
		return Result{}, fmt.Errorf("format: %w", err)
	}
	var css bytes.Buffer
	if err := h.formatter.WriteCSS(&css, h.style); err != nil {
		return Result{}, fmt.Errorf("write css: %w", err)
	}
	return Result{
		Markup:   markup.String(),
		CSS:      css.String(),
		Language: lexer.Config().Name,
	}, nil
}

func pick(content, hint string) chroma.Lexer {
	if hint == "" {
		return lexers.Analyse(content)
	}
	if l := lexers.Get(hint); l != nil {
		return l
	}
	return lexers.Match("paste." + hint)
}
