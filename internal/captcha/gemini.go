package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
)

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 20 * time.Second

	prompt = "This is a CAPTCHA image. Read the numbers/letters shown. Return ONLY the plain digits and letters, " +
		"nothing else. Use regular ASCII characters only (0-9, a-z, A-Z). No subscripts, superscripts, or special " +
		"characters. Just the raw captcha text."
)

// ErrRateLimited is returned when the model API answers 429.
var ErrRateLimited = errors.New("captcha api rate limited")

// Config configures the Gemini solver.
type Config struct {
	// APIKeys are used round-robin, one per request.
	APIKeys []string `mapstructure:"api_keys"`
	Model   string   `mapstructure:"model"`
	// Endpoint overrides the API base URL; the API version is appended by the SDK.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GeminiSolver implements scraper.CaptchaSolver with the generateContent API.
// It holds one SDK client per API key.
type GeminiSolver struct {
	clients []*genai.Client
	next    atomic.Uint64
	model   string
	config  *genai.GenerateContentConfig
	logger  *zap.Logger
}

// NewGeminiSolver validates cfg and builds a solver. client may be nil.
func NewGeminiSolver(ctx context.Context, cfg Config, client *http.Client, logger *zap.Logger) (*GeminiSolver, error) {
	var keys []string
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one captcha api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clients := make([]*genai.Client, 0, len(keys))
	for i, key := range keys {
		c, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      key,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  client,
			HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint, Timeout: &cfg.Timeout},
		})
		if err != nil {
			return nil, fmt.Errorf("create captcha client %d: %w", i, err)
		}
		clients = append(clients, c)
	}

	return &GeminiSolver{
		clients: clients,
		model:   cfg.Model,
		config:  &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)},
		logger:  logger.Named("captcha"),
	}, nil
}

func (s *GeminiSolver) client() *genai.Client {
	n := s.next.Add(1) - 1
	return s.clients[n%uint64(len(s.clients))]
}

// Solve sends image to the model and returns the cleaned answer.
func (s *GeminiSolver) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty captcha image")
	}
	start := time.Now()

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(image, "image/png"),
		genai.NewPartFromText(prompt),
	}, genai.RoleUser)}

	resp, err := s.client().Models.GenerateContent(ctx, s.model, contents, s.config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			metrics.ObserveCaptchaAPI(apiErr.Code, time.Since(start))
			if apiErr.Code == http.StatusTooManyRequests {
				return "", ErrRateLimited
			}
			return "", fmt.Errorf("captcha api status %d: %s", apiErr.Code, strings.TrimSpace(apiErr.Message))
		}
		metrics.ObserveCaptchaAPI(0, time.Since(start))
		return "", fmt.Errorf("captcha request: %w", err)
	}
	metrics.ObserveCaptchaAPI(http.StatusOK, time.Since(start))

	raw := resp.Text()
	text := CleanText(raw)
	s.logger.Debug("captcha solved", zap.String("raw", raw), zap.String("text", text))
	return text, nil
}
