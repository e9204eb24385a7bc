package upstream

import "net/url"

// EncodeContent percent-encodes message content before it is placed in the
// outbound payload. Paired with DecodeContent this round-trips arbitrary
// Unicode text byte-for-byte, including characters that need multi-byte
// percent escapes.
func EncodeContent(s string) string {
	return url.QueryEscape(s)
}

// DecodeContent reverses EncodeContent on content returned by the provider.
func DecodeContent(s string) (string, error) {
	return url.QueryUnescape(s)
}
