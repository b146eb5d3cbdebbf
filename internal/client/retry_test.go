// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"net/http"
	"testing"
	"time"
)

func TestCalculateBackoffWithoutJitter(t *testing.T) {
	tests := []struct {
		attempt  int
		max      time.Duration
		expected time.Duration
	}{
		{0, 30 * time.Second, 1 * time.Second},
		{1, 30 * time.Second, 2 * time.Second},
		{2, 30 * time.Second, 4 * time.Second},
		{4, 30 * time.Second, 16 * time.Second},
		{5, 30 * time.Second, 30 * time.Second},
		{10, 30 * time.Second, 30 * time.Second},
		{3, 5 * time.Second, 5 * time.Second},
		{1, 0, 2 * time.Second},
		{-1, 0, 1 * time.Second},
		{500, 0, DefaultMaxBackoff},
	}

	for _, tt := range tests {
		got := calculateBackoff(tt.attempt, tt.max, 0)
		if got != tt.expected {
			t.Errorf("calculateBackoff(%d, %v, 0) = %v, want %v", tt.attempt, tt.max, got, tt.expected)
		}
	}
}

func TestCalculateBackoffJitterRange(t *testing.T) {
	for attempt := 0; attempt < 4; attempt++ {
		base := BaseBackoff << uint(attempt)
		for i := 0; i < 50; i++ {
			got := CalculateBackoff(attempt, time.Minute)
			if got < base || got >= base+BaseBackoff {
				t.Fatalf("CalculateBackoff(%d) = %v, want within [%v, %v)", attempt, got, base, base+BaseBackoff)
			}
		}
	}
}

func TestCalculateBackoffMonotonicAndCapped(t *testing.T) {
	const ceiling = 30 * time.Second
	prev := time.Duration(0)
	for attempt := 0; attempt < 40; attempt++ {
		got := calculateBackoff(attempt, ceiling, 0)
		if got < prev {
			t.Errorf("backoff decreased at attempt %d: %v < %v", attempt, got, prev)
		}
		if got > ceiling {
			t.Errorf("backoff %v exceeds cap %v at attempt %d", got, ceiling, attempt)
		}
		prev = got

		if jittered := CalculateBackoff(attempt, ceiling); jittered > ceiling {
			t.Errorf("jittered backoff %v exceeds cap at attempt %d", jittered, attempt)
		}
	}
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		if !IsRetryableStatus(code) {
			t.Errorf("IsRetryableStatus(%d) = false, want true", code)
		}
	}

	final := []int{200, 204, 400, 401, 403, 404, 409, 422, 501}
	for _, code := range final {
		if IsRetryableStatus(code) {
			t.Errorf("IsRetryableStatus(%d) = true, want false", code)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"padded seconds", " 3 ", 3 * time.Second},
		{"zero", "0", 0},
		{"negative", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.expected {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	fixed := func(attempt int, max time.Duration) time.Duration {
		return time.Duration(attempt+1) * time.Millisecond
	}

	if got := retryDelay(2, time.Second, 0, fixed); got != 3*time.Millisecond {
		t.Errorf("retryDelay without hint = %v, want 3ms", got)
	}
	if got := retryDelay(2, time.Second, 250*time.Millisecond, fixed); got != 250*time.Millisecond {
		t.Errorf("retryDelay with hint = %v, want 250ms", got)
	}
	if got := retryDelay(0, time.Second, time.Hour, fixed); got != time.Second {
		t.Errorf("retryDelay with oversized hint = %v, want capped 1s", got)
	}
}
