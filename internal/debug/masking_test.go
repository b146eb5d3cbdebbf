// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"net/url"
	"strings"
	"testing"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty token", "", ""},
		{"very short token", "abc", "****"},
		{"exactly 8 chars", "12345678", "****"},
		{"9 chars", "123456789", "****23456789"},
		{"bearer token", "eyJ0eXAiOiJKV1QiLCJhbGciOiJSUzI1NiJ9.payload.sig12345", "****sig12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskToken(tt.input)
			if result != tt.expected {
				t.Errorf("MaskToken(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestMaskHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		value    string
		expected string
	}{
		{"bearer", "Authorization", "Bearer abcdefghijklmnop", "Bearer ****ijklmnop"},
		{"lowercase name", "authorization", "Bearer abcdefghijklmnop", "Bearer ****ijklmnop"},
		{"no scheme", "Authorization", "abcdefghijklmnop", "****ijklmnop"},
		{"content type untouched", "Content-Type", "application/json", "application/json"},
		{"empty", "Authorization", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskHeader(tt.header, tt.value); got != tt.expected {
				t.Errorf("MaskHeader(%q, %q) = %q, want %q", tt.header, tt.value, got, tt.expected)
			}
		})
	}
}

func TestMaskURL(t *testing.T) {
	masked := MaskURL("http://localhost:3847/callback?code=0.AAAAsecretcode123&state=abcdef0123456789&session_state=x")
	if strings.Contains(masked, "secretcode123") {
		t.Errorf("code not masked: %s", masked)
	}
	if strings.Contains(masked, "abcdef0123456789") {
		t.Errorf("state not masked: %s", masked)
	}

	plain := "https://api.businesscentral.dynamics.com/v2.0/t/e/api/v2.0/companies"
	if got := MaskURL(plain); got != plain {
		t.Errorf("MaskURL changed URL without query: %s", got)
	}
}

func TestMaskForm(t *testing.T) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"0.ARrefreshtokenvalue"},
		"client_id":     {"11111111-2222-3333-4444-555555555555"},
	}
	masked := MaskForm(form)

	if masked.Get("grant_type") != "refresh_token" {
		t.Errorf("grant_type should be kept, got %q", masked.Get("grant_type"))
	}
	if masked.Get("refresh_token") == form.Get("refresh_token") {
		t.Errorf("refresh_token not masked")
	}
	if form.Get("refresh_token") != "0.ARrefreshtokenvalue" {
		t.Errorf("MaskForm modified its input")
	}
}

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{"code", "STATE", "code_verifier", "access_token", "Authorization", "client_secret"}
	for _, key := range sensitive {
		if !IsSensitiveKey(key) {
			t.Errorf("IsSensitiveKey(%q) = false, want true", key)
		}
	}

	plain := []string{"grant_type", "client_id", "redirect_uri", "countryCode", "scope"}
	for _, key := range plain {
		if IsSensitiveKey(key) {
			t.Errorf("IsSensitiveKey(%q) = true, want false", key)
		}
	}
}
