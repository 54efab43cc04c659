// Package webhook parses and authenticates Twilio WhatsApp webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/jkindrix/leadconcierge/internal/validation"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// InboundMessage is the form Twilio posts for each WhatsApp message.
type InboundMessage struct {
	MessageSID  string
	From        string
	To          string
	Body        string
	ProfileName string
	NumMedia    int
	MediaURL    string
	MediaType   string
}

// ParseInbound reads the inbound form. The request body must already be
// size-limited.
func ParseInbound(r *http.Request) (*InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	msg := &InboundMessage{
		MessageSID:  strings.TrimSpace(r.PostForm.Get("MessageSid")),
		From:        strings.TrimSpace(r.PostForm.Get("From")),
		To:          strings.TrimSpace(r.PostForm.Get("To")),
		Body:        r.PostForm.Get("Body"),
		ProfileName: strings.TrimSpace(r.PostForm.Get("ProfileName")),
		MediaURL:    strings.TrimSpace(r.PostForm.Get("MediaUrl0")),
		MediaType:   strings.TrimSpace(r.PostForm.Get("MediaContentType0")),
	}
	if n := strings.TrimSpace(r.PostForm.Get("NumMedia")); n != "" {
		num, err := strconv.Atoi(n)
		if err != nil {
			num = -1
		}
		msg.NumMedia = num
	}
	return msg, nil
}

// Validate checks the parsed fields.
func (m *InboundMessage) Validate() validation.ValidationErrors {
	return validation.NewInboundValidator().ValidateInbound(m.From, m.Body, m.ProfileName, m.NumMedia, m.MediaURL)
}

// Verifier checks X-Twilio-Signature: base64 HMAC-SHA1, keyed with the
// auth token, over the URL followed by each POST parameter name and value
// in name order.
type Verifier struct {
	authToken string
	url       string
}

// NewVerifier creates a verifier. When publicURL is empty the URL is
// rebuilt from the request, honoring X-Forwarded-Proto.
func NewVerifier(authToken, publicURL string) *Verifier {
	return &Verifier{authToken: authToken, url: publicURL}
}

// Valid reports whether the request carries a correct signature. The form
// must be parsed first.
func (v *Verifier) Valid(r *http.Request) bool {
	got := r.Header.Get(SignatureHeader)
	if got == "" || v.authToken == "" {
		return false
	}
	want := Sign(v.authToken, v.requestURL(r), r.PostForm)
	return hmac.Equal([]byte(got), []byte(want))
}

func (v *Verifier) requestURL(r *http.Request) string {
	if v.url != "" {
		return v.url
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// Sign computes the Twilio signature of a request.
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, val := range vals {
			b.WriteString(k)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
