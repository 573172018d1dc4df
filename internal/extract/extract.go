// Package extract locates and decodes JSON values embedded in raw page
// source, including values hidden inside backslash-escaped string
// literals. Strict decoding is always attempted first; a regex-based
// field scan is the explicit degraded mode for malformed blocks.
package extract

import (
	"encoding/json"
	"strings"
)

// Status classifies an extraction outcome.
type Status string

// Extraction statuses recorded in the checkpoint.
const (
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
)

// Result is the per-target outcome of an extraction.
type Result struct {
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Partial   bool            `json:"partial,omitempty"`
	RawLength int             `json:"raw_length"`
}

// Options controls a single extraction.
type Options struct {
	// Marker is the literal substring that precedes the embedded
	// container. It may itself end with the opening bracket.
	Marker string
	// Escaped selects escaped mode: the container sits inside a string
	// literal with backslash-escaped quotes.
	Escaped bool
	// Discriminator, when set, picks among multiple candidate blocks.
	// It is evaluated against the raw (still-escaped) block text.
	Discriminator func(block string) bool
	// FallbackFields are the field names required of each object
	// fragment recovered by the degraded regex scan.
	FallbackFields []string
}

// Extract runs the extraction algorithm over doc. It never fails on
// malformed embedded data: a document with no candidate block reports
// StatusNotFound with no payload, and a block that defeats both the
// strict decoder and the fallback scan reports StatusNotFound with the
// block length recorded.
func Extract(doc string, opts Options) Result {
	if opts.Marker == "" {
		return Result{Status: StatusNotFound}
	}

	blocks := candidateBlocks(doc, opts)
	if len(blocks) == 0 {
		return Result{Status: StatusNotFound}
	}

	block := blocks[0]
	if opts.Discriminator != nil {
		for _, b := range blocks {
			if opts.Discriminator(b) {
				block = b
				break
			}
		}
	}

	raw := block
	if opts.Escaped {
		raw = Unescape(raw)
	}

	if json.Valid([]byte(raw)) {
		return Result{
			Status:    StatusFound,
			Payload:   json.RawMessage(raw),
			RawLength: len(block),
		}
	}

	if entries := fallbackScan(raw, opts.FallbackFields); len(entries) > 0 {
		payload, err := json.Marshal(entries)
		if err == nil {
			return Result{
				Status:    StatusFound,
				Payload:   payload,
				Partial:   true,
				RawLength: len(block),
			}
		}
	}

	return Result{Status: StatusNotFound, RawLength: len(block)}
}

// FieldDiscriminator builds a Discriminator satisfied by blocks that
// name every require field and none of the exclude fields. It matches
// both plain and escaped field spellings, so it works on raw candidate
// text in either mode. Returns nil when both lists are empty.
func FieldDiscriminator(require, exclude []string) func(string) bool {
	if len(require) == 0 && len(exclude) == 0 {
		return nil
	}
	return func(block string) bool {
		for _, f := range require {
			if !containsField(block, f) {
				return false
			}
		}
		for _, f := range exclude {
			if containsField(block, f) {
				return false
			}
		}
		return true
	}
}

func containsField(block, field string) bool {
	return strings.Contains(block, `"`+field+`"`) ||
		strings.Contains(block, `\"`+field+`\"`)
}

// candidateBlocks returns every balanced container found after an
// occurrence of the marker, in document order.
func candidateBlocks(doc string, opts Options) []string {
	var out []string
	search := 0
	for {
		i := strings.Index(doc[search:], opts.Marker)
		if i < 0 {
			break
		}
		markerEnd := search + i + len(opts.Marker)
		from := markerEnd
		if last := opts.Marker[len(opts.Marker)-1]; last == '[' || last == '{' {
			from = markerEnd - 1
		}
		if block, ok := scanBlock(doc, from, opts.Escaped); ok {
			out = append(out, block)
		}
		search = markerEnd
	}
	return out
}

// maxBracketGap bounds how far past the marker the opening bracket may
// sit; beyond it the occurrence is not a candidate.
const maxBracketGap = 64

// scanBlock walks doc from the first opening bracket at or after from,
// tracking bracket depth for the target bracket type and an in-string
// flag, and returns the balanced block.
func scanBlock(doc string, from int, escaped bool) (string, bool) {
	n := len(doc)
	open := -1
	var openCh, closeCh byte
	for i := from; i < n && i-from < maxBracketGap; i++ {
		c := doc[i]
		if c == '[' || c == '{' {
			open, openCh = i, c
			if c == '[' {
				closeCh = ']'
			} else {
				closeCh = '}'
			}
			break
		}
		switch c {
		case ' ', '\t', '\n', '\r', ':', '=', '"', '\'', '\\':
		default:
			return "", false
		}
	}
	if open < 0 {
		return "", false
	}

	depth := 0
	inString := false
	for i := open; i < n; i++ {
		c := doc[i]
		if c == '"' {
			switch quoteRole(doc, i, escaped) {
			case quoteToggle:
				inString = !inString
			case quoteLiteral:
			case quoteTerminator:
				// The enclosing string literal ended before the block
				// balanced: the embedded value is truncated.
				return "", false
			}
			continue
		}
		if inString {
			continue
		}
		switch c {
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return doc[open : i+1], true
			}
		}
	}
	return "", false
}
