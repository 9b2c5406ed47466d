// Package cloudauth provides http.RoundTripper decorators that authenticate
// requests to the upstream generation API: a static API key, GCP OAuth2
// (Vertex AI's OpenAI-compatible endpoint) or AWS SigV4 (Bedrock).
package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Mode selects how outbound requests are authenticated.
type Mode string

const (
	ModeAPIKey Mode = "api_key"
	ModeGCP    Mode = "gcp"
	ModeAWS    Mode = "aws"
	ModeNone   Mode = "none"
)

const defaultGCPScope = "https://www.googleapis.com/auth/cloud-platform"

// Config describes the credentials for one upstream.
type Config struct {
	Mode Mode

	// ModeAPIKey.
	Key        string
	HeaderName string // default "Authorization"
	Prefix     string // default "Bearer " when HeaderName is Authorization

	// ModeGCP. Empty means the cloud-platform scope.
	Scopes []string

	// ModeAWS.
	Region  string
	Service string // default "bedrock"
}

// ParseMode parses a config value. Empty means api_key.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "", ModeAPIKey:
		return ModeAPIKey, true
	case ModeGCP, ModeAWS, ModeNone:
		return Mode(s), true
	}
	return "", false
}

// New wraps base with the transport for cfg.Mode. GCP and AWS credentials are
// discovered from the environment (ADC and the default AWS chain).
func New(ctx context.Context, cfg Config, base http.RoundTripper) (http.RoundTripper, error) {
	switch cfg.Mode {
	case "", ModeAPIKey:
		if cfg.Key == "" {
			return base, nil
		}
		header, prefix := cfg.HeaderName, cfg.Prefix
		if header == "" {
			header = "Authorization"
			if prefix == "" {
				prefix = "Bearer "
			}
		}
		return &APIKeyTransport{Key: cfg.Key, HeaderName: header, Prefix: prefix, Base: base}, nil
	case ModeGCP:
		scopes := cfg.Scopes
		if len(scopes) == 0 {
			scopes = []string{defaultGCPScope}
		}
		return NewGCPOAuthTransport(ctx, base, scopes...)
	case ModeAWS:
		if cfg.Region == "" {
			return nil, fmt.Errorf("cloudauth: aws mode requires a region")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("cloudauth: load AWS config: %w", err)
		}
		service := cfg.Service
		if service == "" {
			service = "bedrock"
		}
		return NewAWSSigV4Transport(base, awsCfg.Credentials, cfg.Region, service), nil
	case ModeNone:
		return base, nil
	}
	return nil, fmt.Errorf("cloudauth: unknown mode %q", cfg.Mode)
}

// APIKeyTransport sets HeaderName to Prefix+Key on every request.
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the auth header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return sendWithHeader(t.Base, r, t.HeaderName, t.Prefix+t.Key)
}

// sendWithHeader sends a clone of r carrying header=value, so the caller's
// request is never mutated. A nil base means http.DefaultTransport.
func sendWithHeader(base http.RoundTripper, r *http.Request, header, value string) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(header, value)
	return orDefault(base).RoundTrip(r2)
}

func orDefault(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}
