package ads

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

const seenCookiePrefix = "ads_seen_"

func SeenCookieName(placement string) string {
	return seenCookiePrefix + placement
}

// ParseSeen decodes an ads_seen_* cookie value: a JSON array of creative ids,
// possibly URL-encoded, with ids as numbers or numeric strings. Anything
// unreadable yields an empty set; the cookie is client-controlled.
func ParseSeen(value string) map[int64]bool {
	seen := map[int64]bool{}
	if value == "" {
		return seen
	}
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return seen
	}

	for _, r := range raw {
		var n json.Number
		if err := json.Unmarshal(r, &n); err == nil {
			if id, err := n.Int64(); err == nil {
				seen[id] = true
			}
			continue
		}
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if id, err := strconv.ParseInt(s, 10, 64); err == nil {
				seen[id] = true
			}
		}
	}

	return seen
}

// SeenFromRequest reads the seen set for placement from the request cookies.
func SeenFromRequest(r *http.Request, placement string) map[int64]bool {
	c, err := r.Cookie(SeenCookieName(placement))
	if err != nil {
		return map[int64]bool{}
	}
	return ParseSeen(c.Value)
}
