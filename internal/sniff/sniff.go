// Package sniff detects the character set of fetched bodies.
//
// Detection order: the Content-Type charset parameter, a byte order mark or
// <meta> declaration in the first KiB, UTF-8 validity, then a statistical
// guess. Anything indeterminate reports "utf-8".
package sniff

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

const (
	sampleLen = 1024
	fallback  = "utf-8"
)

// labels reported by chardet that WHATWG spells differently.
var aliases = map[string]string{
	"gb-18030": "gb18030",
}

// Detector implements crawler.CharsetDetector.
type Detector struct {
	text *chardet.Detector
}

// New returns a Detector.
func New() *Detector {
	return &Detector{text: chardet.NewTextDetector()}
}

// Detect returns a lowercase charset label for the body.
func (d *Detector) Detect(contentType string, sample []byte) string {
	if label := fromHeader(contentType); label != "" {
		return label
	}
	if len(sample) > sampleLen {
		sample = sample[:sampleLen]
	}
	if len(sample) == 0 {
		return fallback
	}
	_, name, certain := charset.DetermineEncoding(sample, "")
	if certain || declaresCharset(sample) {
		return name
	}
	if utf8.Valid(trimPartialRune(sample)) {
		return fallback
	}
	return d.guess(sample)
}

func (d *Detector) guess(sample []byte) string {
	res, err := d.text.DetectBest(sample)
	if err != nil || res == nil || res.Charset == "" {
		return fallback
	}
	label := strings.ToLower(res.Charset)
	if alias, ok := aliases[label]; ok {
		label = alias
	}
	if enc, _ := charset.Lookup(label); enc == nil {
		return fallback
	}
	return label
}

func fromHeader(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.Trim(params["charset"], `"' `))
}

// declaresCharset reports whether a <meta> charset declaration is present,
// so a windows-1252 result from the prescan is not mistaken for the default.
func declaresCharset(sample []byte) bool {
	lower := bytes.ToLower(sample)
	return bytes.Contains(lower, []byte("<meta")) && bytes.Contains(lower, []byte("charset"))
}

// trimPartialRune drops an incomplete rune cut off at the end of the sample.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if r := b[len(b)-i]; r < utf8.RuneSelf || utf8.RuneStart(r) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			break
		}
	}
	return b
}
