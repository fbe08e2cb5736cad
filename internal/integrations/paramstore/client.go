package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Secret names stored under the deployment prefix.
const (
	TelegramToken = "telegram-token"
	AIToken       = "ai-token"
	WebhookSecret = "webhook-secret"
	AdminKey      = "admin-key"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the JSON shape every secret is stored as.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api    ssmAPI
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// New creates a Client with the given SSM API implementation. Token names are
// resolved under prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	return &Client{api: api, prefix: prefix, tokens: make(map[string]string)}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Token returns the token stored as {"token": "..."} under prefix/name.
// Successful lookups are cached for the lifetime of the process; failures
// are retried on the next call.
func (c *Client) Token(ctx context.Context, name string) (string, error) {
	path := c.prefix + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")

	c.mu.Lock()
	tok, ok := c.tokens[path]
	c.mu.Unlock()
	if ok {
		return tok, nil
	}

	tok, err := fetchToken(ctx, c, path)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.tokens[path] = tok
	c.mu.Unlock()
	return tok, nil
}

func fetchToken(ctx context.Context, getter Getter, path string) (string, error) {
	raw, err := getter.GetParameter(ctx, path)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal %q as JSON: %w", path, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", path)
	}
	return tp.Token, nil
}
