package mastodon

import (
	"net/url"
	"strings"
)

// nextMaxID extracts the max_id parameter of the rel="next" entry of an
// RFC 8288 Link header. ok is false when there is no next link.
func nextMaxID(header string) (string, bool) {
	for _, entry := range strings.Split(header, ",") {
		parts := strings.Split(entry, ";")
		if len(parts) < 2 {
			continue
		}

		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}

		isNext := false
		for _, param := range parts[1:] {
			key, value, found := strings.Cut(strings.TrimSpace(param), "=")
			if !found || !strings.EqualFold(strings.TrimSpace(key), "rel") {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(value, `"`)) {
				if rel == "next" {
					isNext = true
				}
			}
		}
		if !isNext {
			continue
		}

		u, err := url.Parse(strings.Trim(target, "<>"))
		if err != nil {
			continue
		}
		if id := u.Query().Get("max_id"); id != "" {
			return id, true
		}
	}
	return "", false
}
