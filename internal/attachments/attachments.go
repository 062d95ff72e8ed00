// Package attachments implements the attachment normalizer (C3): it scans
// message content for image references, classifies them as CDN/HTTP/data
// URIs, resolves or enqueues them against the upstream's CDN via a single
// batch upload, and injects assistant→user back-references so the upstream
// model can "see" images it previously produced.
package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/poe2oai/gateway/internal/cache"
	"github.com/poe2oai/gateway/internal/poetypes"
)

const defaultRemoteSizeEstimate = 1 << 20 // 1 MiB, spec.md §4.3

// Uploader issues the single batch upload call to the upstream and returns
// one CDN URL per pending item, in enqueue order.
type Uploader interface {
	BatchUpload(ctx context.Context, items []PendingUpload) ([]string, error)
}

// PendingUpload is one item queued for the batch upload call.
type PendingUpload struct {
	// URL is set for "remote file" uploads (a same-named enqueue of a
	// not-yet-cached HTTP(S) URL); Path is set for decoded data-URI
	// uploads (local temp file).
	URL      string
	Path     string
	MimeType string
}

// Normalizer resolves image references in a request's messages against the
// cache store, issuing at most one batch upload call.
type Normalizer struct {
	cache      *cache.Store
	uploader   Uploader
	cdnPrefix  string
	logger     *slog.Logger
}

func New(store *cache.Store, uploader Uploader, cdnPrefix string, logger *slog.Logger) *Normalizer {
	return &Normalizer{cache: store, uploader: uploader, cdnPrefix: cdnPrefix, logger: logger}
}

type classification int

const (
	classCDN classification = iota
	classHTTP
	classDataURI
)

type resolvedRef struct {
	partIndex  int
	msgIndex   int
	class      classification
	cacheKey   string
	tempPath   string
	mimeType   string
	resolvedTo string // already known — either passthrough CDN or cache hit
}

// Normalize rewrites imageURLs in messages in place, resolving each against
// cache or a single batch upload, then performs assistant→user
// back-reference injection. Returns an error on an upstream batch upload
// failure (spec.md §4.3: a 500-class error), when the upload returns a
// different number of URLs than were enqueued, or when message content
// cannot be decoded or re-encoded.
func (n *Normalizer) Normalize(ctx context.Context, messages []poetypes.Message) ([]poetypes.Message, error) {
	decoded := make([][]poetypes.ContentPart, len(messages))
	for i, msg := range messages {
		parts, err := msg.Parts()
		if err != nil {
			return nil, fmt.Errorf("decode message %d content: %w", i, err)
		}
		decoded[i] = parts
	}

	var pending []PendingUpload
	var refs []*resolvedRef
	var tempFiles []string

	for mi, parts := range decoded {
		for pi := range parts {
			if parts[pi].Type != poetypes.PartImageURL {
				continue
			}
			url := parts[pi].ImageURL.URL
			class, key, mime, tempPath, err := n.classify(url)
			if err != nil {
				n.logger.Warn("skip unresolvable image part", "error", err)
				continue
			}

			ref := &resolvedRef{partIndex: pi, msgIndex: mi, class: class, cacheKey: key, tempPath: tempPath, mimeType: mime}

			switch class {
			case classCDN:
				ref.resolvedTo = url
			case classHTTP:
				if cdnURL, _, ok := n.cache.Get(ctx, "urls", key); ok {
					ref.resolvedTo = cdnURL
				} else {
					pending = append(pending, PendingUpload{URL: url, MimeType: mime})
				}
			case classDataURI:
				if cdnURL, _, ok := n.cache.Get(ctx, "base64", key); ok {
					ref.resolvedTo = cdnURL
				} else {
					pending = append(pending, PendingUpload{Path: tempPath, MimeType: mime})
					tempFiles = append(tempFiles, tempPath)
				}
			}

			refs = append(refs, ref)
		}
	}

	defer cleanupTempFiles(tempFiles, n.logger)

	if len(pending) > 0 {
		urls, err := n.uploader.BatchUpload(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("batch upload attachments: %w", err)
		}
		if len(urls) != len(pending) {
			return nil, fmt.Errorf("batch upload returned %d urls for %d pending items", len(urls), len(pending))
		}

		idx := 0
		for _, ref := range refs {
			if ref.resolvedTo != "" {
				continue
			}
			cdnURL := urls[idx]
			idx++
			ref.resolvedTo = cdnURL

			switch ref.class {
			case classHTTP:
				n.cache.Put(ctx, "urls", ref.cacheKey, cdnURL, defaultRemoteSizeEstimate)
			case classDataURI:
				size := dataURIDecodedSize(decoded[ref.msgIndex][ref.partIndex].ImageURL.URL)
				n.cache.Put(ctx, "base64", ref.cacheKey, cdnURL, size)
			}
		}
	}

	for _, ref := range refs {
		decoded[ref.msgIndex][ref.partIndex].ImageURL.URL = ref.resolvedTo
	}

	result := make([]poetypes.Message, len(messages))
	copy(result, messages)
	injectBackReferences(result, decoded, n.cdnPrefix)

	for i := range result {
		encoded, err := encodeParts(decoded[i])
		if err != nil {
			return nil, fmt.Errorf("re-encode message %d content: %w", i, err)
		}
		if encoded != nil {
			result[i].Content = encoded
		}
	}

	return result, nil
}

// encodeParts serializes normalized parts back into the OpenAI multipart
// content-array JSON shape. Returns nil for an empty part list (leaves the
// original Content, e.g. an empty string, untouched).
func encodeParts(parts []poetypes.ContentPart) (json.RawMessage, error) {
	if len(parts) == 0 {
		return nil, nil
	}

	type wireImageURL struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	}
	type wirePart struct {
		Type     string        `json:"type"`
		Text     string        `json:"text,omitempty"`
		ImageURL *wireImageURL `json:"image_url,omitempty"`
	}

	out := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case poetypes.PartText:
			out = append(out, wirePart{Type: "text", Text: p.Text})
		case poetypes.PartImageURL:
			out = append(out, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL.URL, Detail: p.ImageURL.Detail}})
		default:
			var raw wirePart
			if len(p.Raw) > 0 {
				if err := json.Unmarshal(p.Raw, &raw); err == nil {
					out = append(out, raw)
					continue
				}
			}
		}
	}

	return json.Marshal(out)
}

func (n *Normalizer) classify(url string) (class classification, cacheKey, mime, tempPath string, err error) {
	if n.cdnPrefix != "" && strings.HasPrefix(url, n.cdnPrefix) {
		return classCDN, "", "", "", nil
	}

	if strings.HasPrefix(url, "data:") {
		return n.classifyDataURI(url)
	}

	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return classHTTP, fingerprintString(url), "", "", nil
	}

	return 0, "", "", "", fmt.Errorf("unrecognized image url scheme")
}

func (n *Normalizer) classifyDataURI(url string) (classification, string, string, string, error) {
	comma := strings.IndexByte(url, ',')
	if comma < 0 {
		return 0, "", "", "", fmt.Errorf("malformed data uri")
	}
	header := url[len("data:"):comma]
	payload := url[comma+1:]

	mime := header
	if i := strings.IndexByte(header, ';'); i >= 0 {
		mime = header[:i]
	}

	key := fingerprintHeadTail(payload)

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return 0, "", "", "", fmt.Errorf("decode data uri payload: %w", err)
	}

	f, err := os.CreateTemp("", "attachment-*")
	if err != nil {
		return 0, "", "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(decoded); err != nil {
		return 0, "", "", "", fmt.Errorf("write temp file: %w", err)
	}

	return classDataURI, key, mime, f.Name(), nil
}

// fingerprintHeadTail hashes the first ≤1KiB and the last ≤1KiB-after-the-
// first-1KiB of the base64 payload (spec.md §4.3), avoiding hashing huge
// payloads in full.
func fingerprintHeadTail(payload string) string {
	const chunk = 1024
	head := payload
	if len(head) > chunk {
		head = head[:chunk]
	}

	var tail string
	if len(payload) > chunk {
		rest := payload[chunk:]
		if len(rest) > chunk {
			tail = rest[len(rest)-chunk:]
		} else {
			tail = rest
		}
	}

	h := sha256.Sum256([]byte(head + tail))
	return fmt.Sprintf("%x", h)
}

func fingerprintString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}

// dataURIDecodedSize computes ceil(base64_len * 0.75), the conservative
// decoded-size estimate from spec.md §4.3.
func dataURIDecodedSize(dataURI string) int64 {
	comma := strings.IndexByte(dataURI, ',')
	if comma < 0 {
		return 0
	}
	payload := dataURI[comma+1:]
	return int64(math.Ceil(float64(len(payload)) * 0.75))
}

func cleanupTempFiles(paths []string, logger *slog.Logger) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			logger.Warn("cleanup temp attachment file failed", "path", p, "error", err)
		}
	}
}

var markdownImageRef = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// injectBackReferences finds the last assistant message and the last user
// message, extracts CDN URLs from the assistant's text (Markdown image
// syntax or bare tokens matching cdnPrefix), and appends them as
// image_url parts to the user message (spec.md §4.3).
func injectBackReferences(messages []poetypes.Message, decoded [][]poetypes.ContentPart, cdnPrefix string) {
	if cdnPrefix == "" {
		return
	}

	lastAssistant, lastUser := -1, -1
	for i, m := range messages {
		if m.Role == poetypes.RoleAssistant {
			lastAssistant = i
		}
		if m.Role == poetypes.RoleUser {
			lastUser = i
		}
	}
	if lastAssistant < 0 || lastUser < 0 {
		return
	}

	var text strings.Builder
	for _, p := range decoded[lastAssistant] {
		if p.Type == poetypes.PartText {
			text.WriteString(p.Text)
			text.WriteByte('\n')
		}
	}
	body := text.String()

	urls := map[string]bool{}
	for _, m := range markdownImageRef.FindAllStringSubmatch(body, -1) {
		urls[m[1]] = true
	}
	for _, tok := range strings.Fields(body) {
		if strings.HasPrefix(tok, cdnPrefix) {
			urls[strings.Trim(tok, "()[]<>.,")] = true
		}
	}
	if len(urls) == 0 {
		return
	}

	newParts := append([]poetypes.ContentPart{}, decoded[lastUser]...)
	for u := range urls {
		newParts = append(newParts, poetypes.ContentPart{Type: poetypes.PartImageURL, ImageURL: poetypes.ImageURLPart{URL: u}})
	}
	decoded[lastUser] = newParts
}
