// Bedrock signing transport.
//
// Provides an http.RoundTripper that signs requests with AWS SigV4 for the
// bedrock-runtime service, so LLMClient can call Anthropic models on Bedrock
// with credentials from the standard AWS chain.
package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const (
	defaultAWSRegion   = "us-east-1"
	bedrockServiceName = "bedrock"
)

// BedrockSigningTransport signs each request before delegating to base.
type BedrockSigningTransport struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	base        http.RoundTripper
}

// NewBedrockSigningTransport loads credentials for region (default
// us-east-1). A nil base uses http.DefaultTransport.
func NewBedrockSigningTransport(region string, base http.RoundTripper) (*BedrockSigningTransport, error) {
	if region == "" {
		region = defaultAWSRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSigningTransport(cfg.Credentials, region, base), nil
}

// NewBedrockSigningTransportWithCredentials uses an explicit provider.
func NewBedrockSigningTransportWithCredentials(creds aws.CredentialsProvider, region string, base http.RoundTripper) *BedrockSigningTransport {
	if region == "" {
		region = defaultAWSRegion
	}
	return newSigningTransport(creds, region, base)
}

func newSigningTransport(creds aws.CredentialsProvider, region string, base http.RoundTripper) *BedrockSigningTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &BedrockSigningTransport{
		credentials: creds,
		region:      region,
		signer:      v4.NewSigner(),
		base:        base,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *BedrockSigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
		_ = req.Body.Close()
	}

	creds, err := t.credentials.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	sum := sha256.Sum256(body)
	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))

	if err := t.signer.SignHTTP(req.Context(), creds, signed, hex.EncodeToString(sum[:]), bedrockServiceName, t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to sign Bedrock request: %w", err)
	}

	return t.base.RoundTrip(signed)
}
