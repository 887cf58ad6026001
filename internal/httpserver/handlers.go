package httpserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"clibin/internal/highlight"
	"clibin/internal/metrics"
	"clibin/internal/paste"
	"clibin/internal/policy"
)

const (
	// fieldContent is the form field carrying the paste.
	fieldContent = "clibin"
	fieldExpires = "expires"
	fieldOnetime = "onetime"

	// formOverhead covers multipart boundaries and the option fields.
	formOverhead = 64 << 10

	maxExpiresSeconds = math.MaxInt64 / int64(time.Second)
)

var errBadOption = errors.New("bad option")

type usageData struct {
	URL        string
	MaxSize    int
	DefaultTTL string
	MaxTTL     string
}

type pageData struct {
	ID       string
	Language string
	Markup   template.HTML
	CSS      template.CSS
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := usageData{
		URL:        s.canonicalURL(r, ""),
		MaxSize:    s.pastes.MaxSize(),
		DefaultTTL: humanDuration(s.defaultTTL, policy.DefaultTTL),
		MaxTTL:     humanDuration(s.maxTTL, policy.MaxTTL),
	}
	var buf bytes.Buffer
	if err := s.usage.Execute(&buf, data); err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.pastes.MaxSize())
	// Percent-encoding can triple urlencoded content.
	r.Body = http.MaxBytesReader(w, r.Body, 3*limit+formOverhead)

	content, present, err := readContent(r, limit)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, paste.ErrTooLarge)
			return
		}
		http.Error(w, "Unable to parse form", http.StatusBadRequest)
		return
	}
	if !present {
		http.Error(w, "Missing 'clibin' field", http.StatusBadRequest)
		return
	}

	opts, err := parseOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.pastes.Submit(r.Context(), content, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.canonicalURL(r, id)+"\n")
}

// readContent returns the clibin field from a multipart or urlencoded
// body. A multipart file part named clibin is accepted as well.
func readContent(r *http.Request, limit int64) ([]byte, bool, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit + formOverhead); err != nil {
			return nil, false, err
		}
		if vs, ok := r.MultipartForm.Value[fieldContent]; ok && len(vs) > 0 {
			return []byte(vs[0]), true, nil
		}
		if fhs, ok := r.MultipartForm.File[fieldContent]; ok && len(fhs) > 0 {
			f, err := fhs[0].Open()
			if err != nil {
				return nil, false, err
			}
			defer f.Close()
			// One byte over the limit is enough for the size check.
			b, err := io.ReadAll(io.LimitReader(f, limit+1))
			if err != nil {
				return nil, false, err
			}
			return b, true, nil
		}
		return nil, false, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, false, err
	}
	vs, ok := r.PostForm[fieldContent]
	if !ok || len(vs) == 0 {
		return nil, false, nil
	}
	return []byte(vs[0]), true, nil
}

func parseOptions(r *http.Request) (paste.Options, error) {
	var opts paste.Options
	if v := strings.TrimSpace(r.PostFormValue(fieldExpires)); v != "" {
		d, err := parseExpires(v)
		if err != nil {
			return opts, err
		}
		opts.TTL = policy.After(d)
	}
	if v := strings.TrimSpace(r.PostFormValue(fieldOnetime)); v != "" {
		b, err := parseFlag(v)
		if err != nil {
			return opts, err
		}
		opts.Onetime = b
	}
	return opts, nil
}

// parseExpires accepts integer seconds or a Go duration such as 10m.
func parseExpires(v string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs > maxExpiresSeconds {
			secs = maxExpiresSeconds
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid expires value %q", errBadOption, v)
	}
	return d, nil
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: invalid onetime value %q", errBadOption, v)
	}
	return b, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	p, err := s.pastes.Retrieve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if hint, ok := highlightHint(r.URL.RawQuery); ok && s.highlighter != nil {
		if res, ok := s.highlight(p, hint); ok {
			s.renderPage(w, p, res)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if p.Onetime {
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(p.Content)
		return
	}
	etag := etagFor(p.Content)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(p.Content)
}

// highlight tries the hinted lexer, then content analysis. ok is false when
// the paste should be served as plain text.
func (s *Server) highlight(p paste.Paste, hint string) (highlight.Result, bool) {
	res, err := s.highlighter.Highlight(string(p.Content), hint)
	if err == nil {
		return res, true
	}
	if hint != "" {
		metrics.HighlightFallbacks.WithLabelValues("analyse").Inc()
		s.logger.Debug("highlight fallback", "id", p.ID, "hint", hint, "error", err)
		if res, err = s.highlighter.Highlight(string(p.Content), ""); err == nil {
			return res, true
		}
	}
	metrics.HighlightFallbacks.WithLabelValues("plain").Inc()
	return highlight.Result{}, false
}

func (s *Server) renderPage(w http.ResponseWriter, p paste.Paste, res highlight.Result) {
	var buf bytes.Buffer
	err := s.page.Execute(&buf, pageData{
		ID:       p.ID,
		Language: res.Language,
		Markup:   template.HTML(res.Markup),
		CSS:      template.CSS(res.CSS),
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if p.Onetime {
		w.Header().Set("Cache-Control", "no-store")
	}
	_, _ = buf.WriteTo(w)
}

// highlightHint reports whether the query asks for highlighting and which
// language it names. "?hl" and "?lang" alone select auto-detection,
// "?hl=go" or "?go" select a lexer.
func highlightHint(rawQuery string) (string, bool) {
	if rawQuery == "" {
		return "", false
	}
	for _, part := range strings.Split(rawQuery, "&") {
		key, value, _ := strings.Cut(part, "=")
		key, _ = url.QueryUnescape(key)
		value, _ = url.QueryUnescape(value)
		switch key {
		case "":
		case "hl", "lang":
			if value != "" {
				return value, true
			}
		default:
			return key, true
		}
	}
	return "", true
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.pastes.Lookup(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	png, err := qrcode.Encode(s.canonicalURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// writeError maps paste errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, paste.ErrTooLarge):
		http.Error(w, "Paste too large", http.StatusBadRequest)
	case errors.Is(err, paste.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, paste.ErrInvalidOption):
		http.Error(w, "Invalid option: expires must be positive", http.StatusBadRequest)
	case errors.Is(err, paste.ErrInvalidInput):
		http.Error(w, "Bad request", http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		s.logger.Debug("request cancelled", "path", r.URL.Path)
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		s.serverError(w, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("internal error", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func humanDuration(d, def time.Duration) string {
	if d <= 0 {
		d = def
	}
	switch {
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(count int, singular string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", count, singular)
}

func etagFor(content []byte) string {
	sum := sha256.Sum256(content)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
