package gateway

import (
	"io"
	"strings"
)

func newStringReadCloser(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}
