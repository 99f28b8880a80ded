package model

import (
	"strconv"
	"strings"
)

func trimCell(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r", " "))
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
