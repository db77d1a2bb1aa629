// Package website derives the website-config.json document consumed by the
// Django application from a resolved deployment configuration.
package website

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"codadeploy/internal/config"
)

const (
	// RemotePath is where the document is uploaded, relative to the login home.
	RemotePath = ".codalab/website-config.json"

	// SSLPort is the fixed HTTPS port.
	SSLPort = 443
)

// Config is the website configuration document.
//
// Fields are declared in key order so the encoded object has sorted keys.
type Config struct {
	AllowedHosts      []string       `json:"ALLOWED_HOSTS"`
	DjangoUseUWSGI    bool           `json:"DJANGO_USE_UWSGI"`
	SSLAllowedHosts   []string       `json:"SSL_ALLOWED_HOSTS"`
	SSLCertificate    string         `json:"SSL_CERTIFICATE"`
	SSLCertificateKey string         `json:"SSL_CERTIFICATE_KEY"`
	SSLPort           int            `json:"SSL_PORT"`
	Django            map[string]any `json:"django"`
}

// Build derives the website configuration from cfg. It is pure: the same
// cfg always yields an equal document.
func Build(cfg *config.Config) *Config {
	allowed := append(cfg.SSLRewriteHosts(), cfg.ServerName())

	// SSL_ALLOWED_HOSTS mirrors ALLOWED_HOSTS; both keys are kept for the application.
	sslAllowed := append([]string(nil), allowed...)

	return &Config{
		AllowedHosts:      allowed,
		DjangoUseUWSGI:    true,
		SSLAllowedHosts:   sslAllowed,
		SSLCertificate:    cfg.SSLCertificateInstalledPath(),
		SSLCertificateKey: cfg.SSLCertificateKeyInstalledPath(),
		SSLPort:           SSLPort,
		Django:            copyMap(cfg.Service.Django),
	}
}

// Scheme is "https" when both the SSL certificate and key are installed,
// "http" otherwise.
func (c *Config) Scheme() string {
	if c.SSLCertificate != "" && c.SSLCertificateKey != "" {
		return "https"
	}
	return "http"
}

// BundleAuthURL is the base URL the bundle service uses to reach the website
// for authentication. It is not part of the uploaded document.
func (c *Config) BundleAuthURL() string {
	host := ""
	if len(c.AllowedHosts) > 0 {
		host = c.AllowedHosts[0]
	}
	return fmt.Sprintf("%s://%s", c.Scheme(), host)
}

// Marshal encodes c with sorted keys, four-space indentation and a trailing
// newline. The output is pure ASCII: other characters are written as \uXXXX
// escapes, with surrogate pairs above the BMP.
func Marshal(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode website config: %w", err)
	}
	return escapeNonASCII(buf.Bytes()), nil
}

// escapeNonASCII rewrites every non-ASCII rune of an encoded JSON document.
// Such runes only occur inside strings, where the escape is equivalent.
func escapeNonASCII(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		if data[0] < utf8.RuneSelf {
			out = append(out, data[0])
			data = data[1:]
			continue
		}
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
		} else {
			out = fmt.Appendf(out, `\u%04x`, r)
		}
	}
	return out
}

// Unmarshal decodes a document produced by Marshal.
func Unmarshal(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode website config: %w", err)
	}
	return &c, nil
}

// copyMap deep-copies the nested maps and lists decoded from YAML.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
