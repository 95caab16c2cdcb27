// Package secrets supplies the CRM access token, either from the environment
// or from AWS Systems Manager Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrEmptyToken is returned when the configured source holds no token.
var ErrEmptyToken = errors.New("empty token")

// TokenSource returns a bearer token for the CRM API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrEmptyToken
	}
	return string(s), nil
}

type parameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMTokenSource reads a SecureString parameter and caches it for ttl.
type SSMTokenSource struct {
	client parameterGetter
	name   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	token   string
	fetched time.Time
}

func NewSSMTokenSource(ctx context.Context, region, name string, ttl time.Duration, logger *slog.Logger) (*SSMTokenSource, error) {
	if name == "" {
		return nil, errors.New("missing parameter name")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSSMTokenSource(ssm.NewFromConfig(cfg), name, ttl, logger), nil
}

func newSSMTokenSource(client parameterGetter, name string, ttl time.Duration, logger *slog.Logger) *SSMTokenSource {
	return &SSMTokenSource{
		client: client,
		name:   name,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (s *SSMTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Sub(s.fetched) < s.ttl {
		return s.token, nil
	}

	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", s.name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("parameter %s: %w", s.name, ErrEmptyToken)
	}

	s.token = aws.ToString(out.Parameter.Value)
	s.fetched = s.now()
	s.logger.Debug("crm token refreshed", "parameter", s.name)
	return s.token, nil
}

// Invalidate forces the next Token call to re-read the parameter, e.g. after
// the CRM rejected the cached token.
func (s *SSMTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
