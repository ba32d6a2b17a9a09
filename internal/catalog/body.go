package catalog

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
)

// maxBodyBytes bounds a single decoded search page.
const maxBodyBytes = 32 << 20

// readBody reads and decompresses a response body according to its
// Content-Encoding. The caller closes resp.Body.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: gzip reader")
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	case "", "identity":
	default:
		return nil, eris.Errorf("catalog: unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}

	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read body")
	}
	return body, nil
}
