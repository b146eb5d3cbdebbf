// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"net/url"
	"strings"
)

// sensitiveFragments trigger masking when they appear anywhere in a key
var sensitiveFragments = []string{
	"token", "secret", "authorization", "verifier", "assertion", "password",
}

// sensitiveExact trigger masking only on an exact (case-insensitive) key match.
// "code" and "state" are too short to match as fragments.
var sensitiveExact = []string{
	"code", "state", "code_challenge",
}

// MaskToken masks a token, showing only the last 8 characters
// For tokens of 8 characters or fewer, returns "****"
func MaskToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}

// MaskURL masks OAuth parameters in a URL query, such as the authorization
// code on a callback URL or the state on an authorize URL
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.RawQuery == "" {
		return rawURL
	}

	query := parsed.Query()
	if !maskValues(query) {
		return rawURL
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// MaskForm returns a copy of form values safe for logging
func MaskForm(form url.Values) url.Values {
	masked := make(url.Values, len(form))
	for key, values := range form {
		masked[key] = append([]string(nil), values...)
	}
	maskValues(masked)
	return masked
}

func maskValues(values url.Values) bool {
	modified := false
	for key, vals := range values {
		if !IsSensitiveKey(key) {
			continue
		}
		for i := range vals {
			vals[i] = MaskToken(vals[i])
		}
		modified = true
	}
	return modified
}

// MaskHeader masks sensitive HTTP header values
// Authorization keeps its scheme (Bearer) and masks the credential
func MaskHeader(name, value string) string {
	if len(value) == 0 {
		return ""
	}

	if strings.EqualFold(name, "authorization") {
		scheme, credential, found := strings.Cut(value, " ")
		if found {
			return scheme + " " + MaskToken(credential)
		}
		return MaskToken(value)
	}

	if IsSensitiveKey(name) {
		return MaskToken(value)
	}
	return value
}

// IsSensitiveKey reports whether a header, query or form key carries a credential
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, exact := range sensitiveExact {
		if keyLower == exact {
			return true
		}
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(keyLower, fragment) {
			return true
		}
	}
	return false
}
