package hub

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"hubsync/internal/model"
)

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// CanonicalURL normalizes a resource URL for identity comparison: https is
// assumed when no scheme is given, trailing slashes are dropped from the
// path, the query is kept, the fragment is dropped, and the result is lower-cased.
func CanonicalURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !schemePattern.MatchString(s) {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return strings.ToLower(b.String())
}

// MergeKey returns the storage-independent identity of a resource.
// Records with neither title nor URL fall back to an "id:" key, which cannot
// collide with title/URL keys.
func MergeKey(r *model.Resource) string {
	title := strings.ToLower(strings.TrimSpace(r.Title))
	u := CanonicalURL(r.URL)
	if title == "" && u == "" {
		return "id:" + r.ID
	}
	return "t:" + title + "|u:" + u
}

// effectiveTime is updatedAt, else createdAt, else the Unix epoch.
func effectiveTime(r *model.Resource) time.Time {
	switch {
	case !r.UpdatedAt.IsZero():
		return r.UpdatedAt
	case !r.CreatedAt.IsZero():
		return r.CreatedAt
	default:
		return time.Unix(0, 0)
	}
}

// Newer picks the more recently modified of two records with the same key.
// Ties go to incoming.
func Newer(existing, incoming *model.Resource) *model.Resource {
	if effectiveTime(existing).After(effectiveTime(incoming)) {
		return existing
	}
	return incoming
}

// MergeResources reconciles resources arriving from several fetch paths.
// Order follows first appearance of each key; content follows the newest record.
func MergeResources(lists ...[]*model.Resource) []*model.Resource {
	index := make(map[string]int)
	var out []*model.Resource
	for _, list := range lists {
		for _, r := range list {
			if r == nil {
				continue
			}
			key := MergeKey(r)
			if i, ok := index[key]; ok {
				out[i] = Newer(out[i], r)
				continue
			}
			index[key] = len(out)
			out = append(out, r)
		}
	}
	return out
}
