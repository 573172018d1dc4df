package extract

import (
	"regexp"
	"strings"
)

// objFragmentRe matches flat {...} object fragments. Nested objects are
// deliberately out of reach: the fallback recovers simple records from
// a block the strict decoder already rejected.
var objFragmentRe = regexp.MustCompile(`\{[^{}]*\}`)

// fallbackScan pulls the required fields out of every flat object
// fragment in block, returning a best-effort partial list. A fragment
// missing any required field is dropped rather than guessed at.
func fallbackScan(block string, fields []string) []map[string]string {
	if len(fields) == 0 {
		return nil
	}
	patterns := make([]*regexp.Regexp, len(fields))
	for i, f := range fields {
		patterns[i] = regexp.MustCompile(
			`"` + regexp.QuoteMeta(f) + `"\s*:\s*("(?:[^"\\]|\\.)*"|[^,}\s]+)`,
		)
	}

	var out []map[string]string
	for _, frag := range objFragmentRe.FindAllString(block, -1) {
		entry := make(map[string]string, len(fields))
		complete := true
		for i, f := range fields {
			m := patterns[i].FindStringSubmatch(frag)
			if m == nil {
				complete = false
				break
			}
			entry[f] = fieldValue(m[1])
		}
		if complete {
			out = append(out, entry)
		}
	}
	return out
}

func fieldValue(raw string) string {
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return Unescape(raw[1 : len(raw)-1])
	}
	return raw
}
