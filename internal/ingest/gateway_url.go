package ingest

import "strings"

// DefaultGatewayTemplate renders a content hash as a public HTTP URL.
const DefaultGatewayTemplate = "https://{cid}.ipfs.w3s.link"

// GatewayURL substitutes locator into template's {cid} placeholder. Empty
// locators (redacted listings) render as "". Locators that are already
// URLs are returned unchanged.
func GatewayURL(template, locator string) string {
	if locator == "" {
		return ""
	}
	if strings.Contains(locator, "://") {
		return locator
	}
	if template == "" {
		template = DefaultGatewayTemplate
	}
	return strings.ReplaceAll(template, "{cid}", locator)
}
