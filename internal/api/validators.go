package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ernie/warden/internal/domain"
)

// banLength matches "0" or "perm" for permanent, a day count, or a count
// with an h/d/w/m unit
var banLength = regexp.MustCompile(`^(?i:perm|\d+[hdwm]?)$`)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseBeforeID parses and validates a cursor-based pagination parameter
func parseBeforeID(r *http.Request) *int64 {
	if b := r.URL.Query().Get("before"); b != "" {
		if parsed, err := strconv.ParseInt(b, 10, 64); err == nil && parsed > 0 {
			return &parsed
		}
	}
	return nil
}

// parseIDList parses a comma separated list of snowflake ids
func parseIDList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func validGrantType(t string) bool {
	return t == domain.GrantUser || t == domain.GrantRole
}

func validBanLength(length string) bool {
	return banLength.MatchString(length)
}
