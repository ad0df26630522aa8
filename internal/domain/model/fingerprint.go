package model

import (
	"net/http"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a 128-bit identity for a Request: two requests that
// differ only in header order or in headers outside the whitelist
// produce the same Fingerprint and are cache/dedup-equivalent.
type Fingerprint [16]byte

func (f Fingerprint) String() string {
	const hex = "0123456789abcdef"

	buf := make([]byte, 32)
	for i, b := range f {
		buf[i*2] = hex[b>>4]
		buf[i*2+1] = hex[b&0x0f]
	}

	return string(buf)
}

// FingerprintHeaders is the whitelist of request headers that
// participate in fingerprinting. Anything not listed here is excluded
// so unrelated headers (e.g. X-Request-Id) never split an otherwise
// identical request into distinct cache entries.
var FingerprintHeaders = []string{"Accept", "Accept-Encoding", "Accept-Language", "Authorization"}

// ComputeFingerprint hashes the method, normalized URL, canonical
// whitelisted headers, and optional body into a Fingerprint. Two
// xxhash64 passes over the canonical bytes and body, each salted with a
// different byte, fill the 128 bits; xxhash is fast enough to run on
// every admitted request.
func ComputeFingerprint(method, normalizedURL string, headers http.Header, body []byte) Fingerprint {
	var b strings.Builder

	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(normalizedURL)
	b.WriteByte('\n')

	names := make([]string, 0, len(FingerprintHeaders))
	for _, name := range FingerprintHeaders {
		if v := headers.Get(name); v != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(headers.Get(name))
		b.WriteByte('\n')
	}

	canonical := b.String()

	h1 := xxhash.New()
	_, _ = h1.Write([]byte(canonical))
	_, _ = h1.Write([]byte{0})
	_, _ = h1.Write(body)
	sum1 := h1.Sum64()

	h2 := xxhash.New()
	_, _ = h2.Write([]byte{1})
	_, _ = h2.Write([]byte(canonical))
	_, _ = h2.Write(body)
	sum2 := h2.Sum64()

	var fp Fingerprint
	putUint64(fp[0:8], sum1)
	putUint64(fp[8:16], sum2)

	return fp
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
}
