// Package execution proxies file bundles to an external code-execution
// service. The upstream API wants the entry file at list position zero
// and answers with {run: {output, stderr, signal}}; the proxy returns
// that body verbatim.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

const (
	// wildcardVersion lets the upstream pick any runtime version.
	wildcardVersion = "*"
	defaultTimeout  = 30 * time.Second
)

var (
	// ErrInvalidRequest indicates a bundle missing files, entry file, or language.
	ErrInvalidRequest = errors.New("execution: invalid request")
	// ErrUpstreamFailure indicates the execution service failed or was unreachable.
	ErrUpstreamFailure = errors.New("execution: upstream failure")

	errMissingBaseURL = errors.New("execution: base url required")
)

// FileEntry mirrors the editor's {name, value} file shape.
type FileEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is the bundle a client submits for execution.
type Request struct {
	Files    []FileEntry `json:"files"`
	MainFile FileEntry   `json:"mainFile"`
	Language string      `json:"language"`
}

// Validate rejects bundles with no files, no entry file, or no language.
func (r Request) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Files, validation.Required),
		validation.Field(&r.Language, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(r.MainFile.Name) == "" {
		return fmt.Errorf("%w: mainFile is required", ErrInvalidRequest)
	}
	return nil
}

// BundleFile is the upstream's {name, content} file shape.
type BundleFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type upstreamRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []BundleFile `json:"files"`
}

// RunDetails is the result section of an upstream response.
type RunDetails struct {
	Output string `json:"output"`
	Stderr string `json:"stderr"`
	Signal string `json:"signal"`
}

// RunOutcome is the upstream response shape surfaced to clients.
type RunOutcome struct {
	Run RunDetails `json:"run"`
}

// Config bundles configuration required to instantiate a Proxy.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Proxy forwards execution requests to the configured service.
type Proxy struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewProxy constructs a Proxy with validated configuration.
func NewProxy(cfg Config) (*Proxy, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Execute validates the bundle, forwards it upstream with the entry file
// first, and returns the upstream body unchanged. Failures are generic:
// no retry, no partial execution.
func (p *Proxy) Execute(ctx context.Context, request Request) (json.RawMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(upstreamRequest{
		Language: request.Language,
		Version:  wildcardVersion,
		Files:    orderedBundle(request),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodPost, p.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := p.httpClient.Do(httpRequest)
	if err != nil {
		p.logger.Warn("execution upstream unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		p.logger.Warn("failed to read execution response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		p.logger.Warn("execution upstream rejected request",
			zap.Int("status", response.StatusCode),
			zap.String("language", request.Language))
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamFailure, response.StatusCode)
	}
	return json.RawMessage(body), nil
}

// orderedBundle places the entry file first and every other file after
// it, dropping duplicates of the entry by name.
func orderedBundle(request Request) []BundleFile {
	bundle := make([]BundleFile, 0, len(request.Files)+1)
	bundle = append(bundle, BundleFile{Name: request.MainFile.Name, Content: request.MainFile.Value})
	for _, file := range request.Files {
		if file.Name == request.MainFile.Name {
			continue
		}
		bundle = append(bundle, BundleFile{Name: file.Name, Content: file.Value})
	}
	return bundle
}
