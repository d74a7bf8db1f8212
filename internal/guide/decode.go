package guide

import (
	"encoding/base64"
	"strings"
	uni "unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeText turns a service-encoded title or description into display text.
// Input that is not base64 of printable UTF-8 text is returned unchanged.
func DecodeText(raw string) string {
	if raw == "" {
		return ""
	}
	text, err := decodeBase64Text(raw)
	if err != nil {
		return raw
	}
	return text
}

// EncodeText is the inverse of DecodeText for well-formed text. It always
// emits padded standard base64, so EncodeText(DecodeText(raw)) == raw holds
// for canonical input; unpadded or whitespace-wrapped raw text comes back
// padded and trimmed.
func EncodeText(text string) string {
	if text == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(text))
}

func decodeBase64Text(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return "", ErrDecodeFailure
		}
	}
	if len(b) == 0 {
		return "", ErrDecodeFailure
	}

	// Transformers are stateful, so each call builds its own. A leading BOM is
	// stripped and UTF-16 input is transcoded when its BOM says so.
	bom := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(bom, b)
	if err != nil || !utf8.Valid(out) {
		return "", ErrDecodeFailure
	}
	if !isDisplayable(out) {
		return "", ErrDecodeFailure
	}
	return string(out), nil
}

// isDisplayable rejects decodings that contain replacement characters or
// control bytes, which is what plain words that happen to be valid base64
// usually turn into.
func isDisplayable(b []byte) bool {
	for _, r := range string(b) {
		if r == utf8.RuneError {
			return false
		}
		if !uni.IsPrint(r) && !uni.IsSpace(r) {
			return false
		}
	}
	return true
}
