package handlers

import "strconv"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func parsePage(value string) int {
	if value == "" {
		return 1
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return 1
	}
	return parsed
}

func parsePageSize(value string) int {
	if value == "" {
		return defaultPageSize
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return defaultPageSize
	}
	if parsed > maxPageSize {
		return maxPageSize
	}
	return parsed
}
