// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseBackoff is the unit of the exponential backoff and the jitter range
	BaseBackoff = time.Second
	// DefaultMaxBackoff caps CalculateBackoff when no cap is given
	DefaultMaxBackoff = 30 * time.Second
)

// retryableStatuses are the HTTP statuses worth another attempt
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus checks if a status code is in the retryable set
func IsRetryableStatus(statusCode int) bool {
	return retryableStatuses[statusCode]
}

// CalculateBackoff returns min(1s*2^attempt + jitter, max) where jitter is
// uniform in [0, 1s). attempt is 0-indexed; max <= 0 selects DefaultMaxBackoff.
func CalculateBackoff(attempt int, max time.Duration) time.Duration {
	return calculateBackoff(attempt, max, time.Duration(rand.Int63n(int64(BaseBackoff))))
}

func calculateBackoff(attempt int, max, jitter time.Duration) time.Duration {
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempt < 0 {
		attempt = 0
	}
	// 2^35 seconds already dwarfs any sane cap; stop shifting before overflow.
	if attempt > 32 {
		return max
	}

	backoff := BaseBackoff<<uint(attempt) + jitter
	if backoff > max || backoff < 0 {
		return max
	}
	return backoff
}

// parseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. It returns 0 when the header is absent or unusable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// retryDelay picks the wait before retry number attempt+1. A server hint wins
// over the computed backoff; both are capped at max.
func retryDelay(attempt int, max time.Duration, hint time.Duration, backoff func(int, time.Duration) time.Duration) time.Duration {
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if hint > 0 {
		if hint > max {
			return max
		}
		return hint
	}
	return backoff(attempt, max)
}
