package website

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"codadeploy/internal/config"
)

func testConfig(withSSL bool) *config.Config {
	cfg := &config.Config{
		Label:  "prod",
		Global: config.Global{Prefix: "cl"},
		Service: config.Service{
			VM: config.ServiceVM{Count: 2, SSHPort: 2200},
			Django: map[string]any{
				"configuration": "Prod",
				"secret-key":    "s3cr3t<&>",
				"database": map[string]any{
					"NAME": "codalab",
					"PORT": 3306,
				},
			},
		},
	}
	if withSSL {
		cfg.Service.SSL = config.SSL{
			Filename:     "certs/site.crt",
			KeyFilename:  "certs/site.key",
			RewriteHosts: []string{"worksheets.codalab.org", "www.codalab.org"},
		}
	}
	return cfg
}

func TestBuild_WithSSL(t *testing.T) {
	c := Build(testConfig(true))

	expectedHosts := []string{"worksheets.codalab.org", "www.codalab.org", "clprod.cloudapp.net"}
	if !reflect.DeepEqual(c.AllowedHosts, expectedHosts) {
		t.Errorf("AllowedHosts = %v, expected %v", c.AllowedHosts, expectedHosts)
	}
	if !reflect.DeepEqual(c.SSLAllowedHosts, expectedHosts) {
		t.Errorf("SSLAllowedHosts = %v, expected %v", c.SSLAllowedHosts, expectedHosts)
	}
	if !c.DjangoUseUWSGI {
		t.Error("Expected DjangoUseUWSGI to be true")
	}
	if c.SSLPort != 443 {
		t.Errorf("SSLPort = %d, expected 443", c.SSLPort)
	}
	if c.SSLCertificate != "/etc/ssl/certs/site.crt" {
		t.Errorf("SSLCertificate = %q", c.SSLCertificate)
	}
	if c.SSLCertificateKey != "/etc/ssl/private/site.key" {
		t.Errorf("SSLCertificateKey = %q", c.SSLCertificateKey)
	}
	if c.Django["configuration"] != "Prod" {
		t.Errorf("Django[configuration] = %v", c.Django["configuration"])
	}
}

func TestBuild_WithoutSSL(t *testing.T) {
	c := Build(testConfig(false))

	if !reflect.DeepEqual(c.AllowedHosts, []string{"clprod.cloudapp.net"}) {
		t.Errorf("AllowedHosts = %v, expected only the primary hostname", c.AllowedHosts)
	}
	if c.SSLCertificate != "" || c.SSLCertificateKey != "" {
		t.Errorf("Expected empty SSL paths, got %q / %q", c.SSLCertificate, c.SSLCertificateKey)
	}
}

func TestBuild_AllowedHostsEndWithPrimary(t *testing.T) {
	for _, withSSL := range []bool{true, false} {
		cfg := testConfig(withSSL)
		c := Build(cfg)
		if last := c.AllowedHosts[len(c.AllowedHosts)-1]; last != cfg.ServerName() {
			t.Errorf("ssl=%v: last allowed host = %q, expected %q", withSSL, last, cfg.ServerName())
		}
	}
}

func TestBuild_Pure(t *testing.T) {
	cfg := testConfig(true)

	first := Build(cfg)
	second := Build(cfg)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Build is not idempotent:\n%+v\n%+v", first, second)
	}

	// Mutating the result must not leak back into the configuration.
	first.AllowedHosts[0] = "changed"
	first.Django["configuration"] = "changed"
	first.Django["database"].(map[string]any)["NAME"] = "changed"

	third := Build(cfg)
	if !reflect.DeepEqual(second, third) {
		t.Errorf("Build result shares state with its input:\n%+v\n%+v", second, third)
	}
	if cfg.Service.SSL.RewriteHosts[0] != "worksheets.codalab.org" {
		t.Errorf("Config rewrite hosts were mutated: %v", cfg.Service.SSL.RewriteHosts)
	}
}

func TestBundleAuthURL(t *testing.T) {
	certOnly := testConfig(true)
	certOnly.Service.SSL.KeyFilename = ""
	keyOnly := testConfig(true)
	keyOnly.Service.SSL.Filename = ""

	testCases := []struct {
		name     string
		cfg      *config.Config
		scheme   string
		expected string
	}{
		{"https with certificate and key", testConfig(true), "https", "https://worksheets.codalab.org"},
		{"http without certificate", testConfig(false), "http", "http://clprod.cloudapp.net"},
		{"http with certificate but no key", certOnly, "http", "http://worksheets.codalab.org"},
		{"http with key but no certificate", keyOnly, "http", "http://worksheets.codalab.org"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Build(tc.cfg)
			if got := c.Scheme(); got != tc.scheme {
				t.Errorf("Scheme() = %q, expected %q", got, tc.scheme)
			}
			if got := c.BundleAuthURL(); got != tc.expected {
				t.Errorf("BundleAuthURL() = %q, expected %q", got, tc.expected)
			}
		})
	}
}

func TestMarshal_Format(t *testing.T) {
	data, err := Marshal(Build(testConfig(true)))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	if !bytes.HasSuffix(data, []byte("}\n")) {
		t.Error("Expected trailing newline")
	}
	if !strings.Contains(string(data), "\n    \"ALLOWED_HOSTS\": [\n        \"worksheets.codalab.org\",") {
		t.Errorf("Expected four-space indentation, got:\n%s", data)
	}
	if !strings.Contains(string(data), `"s3cr3t<&>"`) {
		t.Errorf("Expected HTML characters to be left unescaped, got:\n%s", data)
	}
	if strings.Contains(string(data), "bundle") {
		t.Errorf("Bundle auth URL must not be serialized:\n%s", data)
	}

	keys := []string{
		`"ALLOWED_HOSTS"`,
		`"DJANGO_USE_UWSGI"`,
		`"SSL_ALLOWED_HOSTS"`,
		`"SSL_CERTIFICATE"`,
		`"SSL_CERTIFICATE_KEY"`,
		`"SSL_PORT"`,
		`"django"`,
		`"configuration"`,
		`"database"`,
		`"NAME"`,
		`"PORT"`,
		`"secret-key"`,
	}
	last := -1
	for _, key := range keys {
		idx := strings.Index(string(data), key+": ")
		if idx < 0 {
			t.Fatalf("Key %s not found in:\n%s", key, data)
		}
		if idx <= last {
			t.Errorf("Key %s is out of order in:\n%s", key, data)
		}
		last = idx
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	original := Build(testConfig(true))

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	// JSON numbers decode as float64; compare through a second encoding.
	again, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("Round trip changed the document:\n%s\n---\n%s", data, again)
	}
	if !reflect.DeepEqual(decoded.AllowedHosts, original.AllowedHosts) {
		t.Errorf("AllowedHosts = %v, expected %v", decoded.AllowedHosts, original.AllowedHosts)
	}
}

func TestMarshal_EscapesNonASCII(t *testing.T) {
	cfg := testConfig(false)
	cfg.Service.Django["site-name"] = "café ✓ 𝄞"

	data, err := Marshal(Build(cfg))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	for i, b := range data {
		if b >= 0x80 {
			t.Fatalf("Non-ASCII byte %#x at offset %d in:\n%s", b, i, data)
		}
	}
	if !strings.Contains(string(data), `"site-name": "caf\u00e9 \u2713 \ud834\udd1e"`) {
		t.Errorf("Unexpected escaping in:\n%s", data)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got := decoded.Django["site-name"]; got != "café ✓ 𝄞" {
		t.Errorf("site-name = %q after round trip", got)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
