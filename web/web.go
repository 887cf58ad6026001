// Package web embeds the usage text and page templates.
package web

import "embed"

// Templates holds usage.tmpl (text/template) and paste.tmpl (html/template).
//
//go:embed templates/*.tmpl
var Templates embed.FS
