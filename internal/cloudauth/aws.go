package cloudauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// AWSSigV4Transport signs every request with AWS Signature Version 4.
// SigV4 covers the payload hash, so bodies are read fully before sending;
// generation requests are small JSON documents.
type AWSSigV4Transport struct {
	base    http.RoundTripper
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	region  string
	service string
	now     func() time.Time
}

// NewAWSSigV4Transport signs for region and service, e.g. "us-east-1" and "bedrock".
func NewAWSSigV4Transport(base http.RoundTripper, creds aws.CredentialsProvider, region, service string) *AWSSigV4Transport {
	return &AWSSigV4Transport{
		base:    base,
		creds:   creds,
		signer:  v4.NewSigner(),
		region:  region,
		service: service,
		now:     time.Now,
	}
}

// RoundTrip signs and sends a clone of r.
func (t *AWSSigV4Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	body, err := payload(r)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: read body for signing: %w", err)
	}
	creds, err := t.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: retrieve AWS credentials: %w", err)
	}

	signed := r.Clone(ctx)
	signed.ContentLength = int64(len(body))
	signed.Body = http.NoBody
	if len(body) > 0 {
		signed.Body = io.NopCloser(bytes.NewReader(body))
	}
	sum := sha256.Sum256(body)
	if err := t.signer.SignHTTP(ctx, creds, signed, hex.EncodeToString(sum[:]), t.service, t.region, t.now().UTC()); err != nil {
		return nil, fmt.Errorf("cloudauth: sign request: %w", err)
	}
	return orDefault(t.base).RoundTrip(signed)
}

// payload returns r's body. GetBody is preferred so r stays replayable.
func payload(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	rc := r.Body
	if r.GetBody != nil {
		var err error
		if rc, err = r.GetBody(); err != nil {
			return nil, err
		}
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
