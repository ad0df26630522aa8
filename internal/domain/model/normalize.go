package model

import (
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL lowercases scheme and host, drops a default port, sorts
// query parameters, drops the fragment, turns an empty path into "/",
// and strips a trailing slash from any other path so that
// trivially-equivalent URLs fingerprint identically.
func NormalizeURL(raw string) (*url.URL, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if port := u.Port(); port != "" {
		if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
			u.Host = u.Hostname()
		}
	}

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sorted := url.Values{}
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			sorted[k] = vals
		}
		u.RawQuery = sorted.Encode()
	}

	u.Fragment = ""

	return u, u.String(), nil
}
