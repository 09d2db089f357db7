package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

// submitRequest is the wire form of one queued request.
type submitRequest struct {
	URI              string              `json:"uri"`
	URL              string              `json:"url"`
	Method           string              `json:"method"`
	Headers          map[string]string   `json:"headers"`
	Body             string              `json:"body"`
	Form             map[string][]string `json:"form"`
	JSON             json.RawMessage     `json:"json"`
	Priority         *int                `json:"priority"`
	Limiter          string              `json:"limiter"`
	Retries          *int                `json:"retries"`
	RetryDelay       string              `json:"retry_delay"`
	Timeout          string              `json:"timeout"`
	Encoding         string              `json:"encoding"`
	IncomingEncoding string              `json:"incoming_encoding"`
	Document         string              `json:"document"`
	Download         string              `json:"download"`
	SkipDuplicates   *bool               `json:"skip_duplicates"`
	HTML             string              `json:"html"`
	UserAgent        string              `json:"user_agent"`
	Referer          string              `json:"referer"`
	Proxy            string              `json:"proxy"`
	Cookie           string              `json:"cookie"`
}

func (p submitRequest) toRequest() (crawler.Request, error) {
	addr := strings.TrimSpace(p.URI)
	if addr == "" {
		addr = strings.TrimSpace(p.URL)
	}
	if addr == "" && p.HTML == "" {
		return crawler.Request{}, errors.New("uri or html is required")
	}
	if addr != "" {
		u, err := url.Parse(addr)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return crawler.Request{}, fmt.Errorf("invalid uri %q", addr)
		}
	}

	spec := crawler.Spec{
		URI:              addr,
		Method:           strings.ToUpper(strings.TrimSpace(p.Method)),
		Priority:         p.Priority,
		Limiter:          p.Limiter,
		Retries:          p.Retries,
		IncomingEncoding: p.IncomingEncoding,
		SkipDuplicates:   p.SkipDuplicates,
		HTML:             p.HTML,
		UserAgent:        p.UserAgent,
		Referer:          p.Referer,
		Proxy:            p.Proxy,
		Cookie:           p.Cookie,
	}
	if p.Retries != nil && *p.Retries < 0 {
		return crawler.Request{}, errors.New("retries must be >= 0")
	}
	if len(p.Headers) > 0 {
		spec.Headers = http.Header{}
		for k, v := range p.Headers {
			spec.Headers.Set(k, v)
		}
	}
	if p.Body != "" {
		spec.Body = []byte(p.Body)
	}
	if len(p.Form) > 0 {
		spec.Form = url.Values(p.Form)
	}
	if len(p.JSON) > 0 && string(p.JSON) != "null" {
		spec.JSONBody = append(json.RawMessage(nil), p.JSON...)
	}

	if p.RetryDelay != "" {
		d, err := time.ParseDuration(p.RetryDelay)
		if err != nil || d < 0 {
			return crawler.Request{}, fmt.Errorf("invalid retry_delay %q", p.RetryDelay)
		}
		spec.RetryDelay = crawler.Duration(d)
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil || d < 0 {
			return crawler.Request{}, fmt.Errorf("invalid timeout %q", p.Timeout)
		}
		spec.Timeout = d
	}

	enc, err := parseEncoding(p.Encoding)
	if err != nil {
		return crawler.Request{}, err
	}
	spec.Encoding = enc

	switch strings.ToLower(p.Document) {
	case "":
	case "none", "off":
		spec.Document = crawler.NoDocument()
	case "default":
		spec.Document = crawler.DefaultDocument(crawler.DocumentConfig{})
	case "environment":
		spec.Document = crawler.EnvironmentDocument(crawler.DocumentConfig{})
	default:
		return crawler.Request{}, fmt.Errorf("invalid document %q", p.Document)
	}

	// Callers cannot pick file paths on the server.
	switch strings.ToLower(p.Download) {
	case "":
	case "off":
		spec.Download = crawler.Download{Kind: crawler.DownloadOff}
	case "hashed":
		spec.Download = crawler.SaveHashed()
	default:
		return crawler.Request{}, fmt.Errorf("invalid download %q", p.Download)
	}

	return crawler.Request{Spec: spec}, nil
}

func parseEncoding(v string) (crawler.EncodingMode, error) {
	switch strings.ToLower(v) {
	case "", "inherit":
		return crawler.EncodingInherit, nil
	case "detect":
		return crawler.EncodingDetect, nil
	case "as-given", "as_given":
		return crawler.EncodingAsGiven, nil
	case "raw":
		return crawler.EncodingRaw, nil
	default:
		return crawler.EncodingInherit, fmt.Errorf("invalid encoding %q", v)
	}
}
