// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/infinite-iroha/minato/lock"
)

// Depth header values. Depth 1 is only meaningful for PROPFIND.
const (
	depthZero     = 0
	depthOne      = 1
	depthInfinity = -1
)

// parseDepth interprets a Depth header, returning def when absent.
// Unknown values map to the sentinel -2; callers answer 400.
func parseDepth(s string, def int) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "0":
		return depthZero
	case "1":
		return depthOne
	case "infinity":
		return depthInfinity
	}
	return -2
}

// parseTimeout interprets a Timeout header per RFC 4918 section 10.7: a
// comma-separated preference list of "Second-n" and "Infinite". The first
// understood entry wins; an absent or unintelligible header requests an
// infinite timeout and the lock manager clamps it.
func parseTimeout(s string) time.Duration {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if strings.EqualFold(part, "Infinite") {
			return lock.Infinite
		}
		if len(part) > 7 && strings.EqualFold(part[:7], "Second-") {
			secs, err := strconv.ParseInt(part[7:], 10, 64)
			if err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return lock.Infinite
}

// parseOverwrite interprets an Overwrite header; the default is true.
func parseOverwrite(s string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return true, true
	case "T":
		return true, true
	case "F":
		return false, true
	}
	return false, false
}

// parseHTTPDate accepts the three date formats of RFC 7231 section
// 7.1.1.1: IMF-fixdate (RFC 1123), RFC 850, and asctime.
func parseHTTPDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// formatHTTPDate renders a time in RFC 1123 GMT form.
func formatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// byteRange is one contiguous range of an entity.
type byteRange struct {
	start, length int64
}

func (r byteRange) end() int64 { return r.start + r.length - 1 }

// parseRange interprets a Range header against an entity of the given
// size. Multi-range requests are not honored: only the first range is
// returned, per this server's single-range policy. The second result is
// false when the header is present but unsatisfiable (416); the third is
// false when there is no usable bytes range at all (ignore the header).
func parseRange(s string, size int64) (byteRange, bool, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(strings.ToLower(s), prefix) {
		return byteRange{}, false, false
	}
	spec := strings.TrimSpace(strings.SplitN(s[len(prefix):], ",", 2)[0])
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return byteRange{}, false, false
	}
	startStr, endStr := strings.TrimSpace(spec[:dash]), strings.TrimSpace(spec[dash+1:])

	if startStr == "" {
		// Suffix range: last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, false, true
		}
		if n > size {
			n = size
		}
		if n == 0 {
			return byteRange{}, false, true
		}
		return byteRange{start: size - n, length: n}, true, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, true
	}
	if start >= size {
		return byteRange{}, false, true
	}
	end := size - 1
	if endStr != "" {
		e, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || e < start {
			return byteRange{}, false, true
		}
		if e < end {
			end = e
		}
	}
	return byteRange{start: start, length: end - start + 1}, true, true
}

// stripTokenBrackets removes the angle brackets of a Coded-URL, as found
// in the Lock-Token header.
func stripTokenBrackets(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		return s[1 : len(s)-1]
	}
	return s
}

// etagListMatches evaluates an If-Match or If-None-Match list against the
// current etag. A bare "*" matches any existing entity. Weak comparison
// is not applied: etags here are opaque strings compared byte-wise.
func etagListMatches(header, current string, exists bool) bool {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" {
			if exists {
				return true
			}
			continue
		}
		if current != "" && part == current {
			return true
		}
	}
	return false
}
