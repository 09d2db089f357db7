package crawler

import (
	"net/http"
	"time"
)

// Version is reported in the default user agent.
const Version = "1.0.0"

// ProxyRotation decides whether a proxy list advances between attempts.
type ProxyRotation int

// Proxy rotation policies.
const (
	// RotateNever always uses the head of the proxy list.
	RotateNever ProxyRotation = iota
	// RotateOnRetry moves the failed proxy to the back of the list before a retry.
	RotateOnRetry
)

// Options are the engine-wide settings. Every per-request field left unset on
// a Spec is filled from here; MaxConnections, PriorityRange, LimiterConcurrency,
// RateLimit(s), PreRequest and OnDrain stay engine-level.
type Options struct {
	// MaxConnections bounds concurrent transport calls.
	MaxConnections int
	// PriorityRange is the number of priority levels; valid priorities are [0, PriorityRange).
	PriorityRange int
	// LimiterConcurrency bounds admissions that passed a rate gate but wait for a slot.
	LimiterConcurrency int
	// RateLimit is the minimum interval between admissions on one key; 0 means unlimited.
	RateLimit time.Duration
	// RateLimits overrides RateLimit per limiter key.
	RateLimits map[string]time.Duration

	Method     string
	Priority   int
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration

	ForceUTF8        bool
	IncomingEncoding string
	Document         DocumentMode
	SkipDuplicates   bool
	Download         Download

	UserAgent     string
	UserAgents    []string
	RotateUA      bool
	Referer       string
	Proxies       []string
	ProxyRotation ProxyRotation
	Cookie        string
	Headers       http.Header
	Jar           http.CookieJar

	// PreRequest may inspect or adjust each attempt just before dispatch.
	PreRequest func(req *Request)
	// OnDrain runs every time the engine becomes idle.
	OnDrain func()
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnections:     10,
		PriorityRange:      10,
		LimiterConcurrency: 10000,
		Method:             http.MethodGet,
		Priority:           5,
		Retries:            3,
		RetryDelay:         10 * time.Second,
		Timeout:            15 * time.Second,
		Document:           DefaultDocument(DocumentConfig{}),
		Download:           Download{Kind: DownloadOff},
		UserAgent:          "fetchqueue/" + Version,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.MaxConnections <= 0 {
		o.MaxConnections = def.MaxConnections
	}
	if o.PriorityRange <= 0 {
		o.PriorityRange = def.PriorityRange
	}
	if o.LimiterConcurrency <= 0 {
		o.LimiterConcurrency = def.LimiterConcurrency
	}
	if o.Method == "" {
		o.Method = def.Method
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Document.Kind == DocumentInherit {
		o.Document = def.Document
	}
	if o.Download.Kind == DownloadInherit {
		o.Download = def.Download
	}
	if o.UserAgent == "" && len(o.UserAgents) == 0 {
		o.UserAgent = def.UserAgent
	}
}

// merge fills every unset field of s from the engine options; fields the
// caller set always win.
func (o *Options) merge(s *Spec) {
	if s.URI == "" && s.URL != "" {
		s.URI = s.URL
	}
	if s.Method == "" {
		s.Method = o.Method
	}
	if s.Priority == nil {
		s.Priority = Int(o.Priority)
	}
	s.Priority = Int(clampPriority(*s.Priority, o.PriorityRange))
	if s.Limiter == "" {
		s.Limiter = DefaultLimiter
	}
	if s.Retries == nil {
		s.Retries = Int(o.Retries)
	}
	if *s.Retries < 0 {
		s.Retries = Int(0)
	}
	if s.RetryDelay == nil {
		s.RetryDelay = Duration(o.RetryDelay)
	}
	if s.Timeout <= 0 {
		s.Timeout = o.Timeout
	}
	if s.Encoding == EncodingInherit {
		s.Encoding = EncodingAsGiven
		if o.ForceUTF8 {
			s.Encoding = EncodingDetect
		}
	}
	if s.IncomingEncoding == "" {
		s.IncomingEncoding = o.IncomingEncoding
	}
	if s.Document.Kind == DocumentInherit {
		s.Document = o.Document
		s.Document.Config.Scripts = cloneStrings(o.Document.Config.Scripts)
	}
	if s.Download.Kind == DownloadInherit {
		s.Download = o.Download
	}
	if s.SkipDuplicates == nil {
		s.SkipDuplicates = Bool(o.SkipDuplicates)
	}
	if s.RotateUA == nil {
		s.RotateUA = Bool(o.RotateUA)
	}
	if s.Referer == "" {
		s.Referer = o.Referer
	}
	if s.Proxy == "" && len(s.Proxies) == 0 {
		s.Proxies = cloneStrings(o.Proxies)
	}
	if s.Cookie == "" {
		s.Cookie = o.Cookie
	}
	if len(o.Headers) > 0 {
		if s.Headers == nil {
			s.Headers = http.Header{}
		}
		for k, v := range o.Headers {
			if _, ok := s.Headers[k]; !ok {
				s.Headers[k] = append([]string(nil), v...)
			}
		}
	}
}

func clampPriority(p, levels int) int {
	if p < 0 {
		return 0
	}
	if p >= levels {
		return levels - 1
	}
	return p
}
