// Package provider contains the VCS provider adapters. Each adapter turns
// one provider's REST API and webhook payloads into the generic models; the
// service layer never sees a provider-specific shape.
package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ReceiverURLFunc expands the configured webhook callback template for one
// provider and webhook token.
type ReceiverURLFunc func(provider, token string) string

// decodeJSON decodes a response body into v and drains the remainder so the
// connection can be reused.
func decodeJSON(resp *http.Response, v any) error {
	defer drainClose(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drainClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}

// nextPageLink extracts the rel="next" target from an RFC 8288 Link header,
// "" when there is no next page.
func nextPageLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segments := strings.Split(strings.TrimSpace(part), ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
			for _, attr := range segments[1:] {
				if strings.TrimSpace(attr) == `rel="next"` {
					return target
				}
			}
		}
	}
	return ""
}

// alternateLink extracts the rel="alternate" target from a Link header.
func alternateLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segments := strings.Split(strings.TrimSpace(part), ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
			for _, attr := range segments[1:] {
				if strings.TrimSpace(attr) == `rel="alternate"` {
					return target
				}
			}
		}
	}
	return ""
}
