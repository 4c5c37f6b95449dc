package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const generateURL = "https://model.test/v1beta/models/gemini-2.0-flash:generateContent"

func newMockSolver(t *testing.T, keys ...string) (*GeminiSolver, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	solver, err := NewGeminiSolver(context.Background(), Config{APIKeys: keys, Endpoint: "https://model.test/"},
		&http.Client{Transport: transport}, nil)
	require.NoError(t, err)
	return solver, transport
}

func answer(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}}},
		},
	}
}

type generateBody struct {
	Contents []struct {
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MimeType string `json:"mimeType"`
				Data     []byte `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"  aB3d \n", "aB3d"},
		{"₁₂³⁴", "1234"},
		{"θOo7", "0007"},
		{"A-B_C!", "ABC"},
		{"ખ12", "12"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CleanText(tt.in), tt.in)
	}
}

func TestPlausible(t *testing.T) {
	t.Parallel()

	require.True(t, Plausible("ab12", 4))
	require.False(t, Plausible("ab1", 4))
	require.False(t, Plausible("", 0))
	require.False(t, Plausible("", -1))
	require.True(t, Plausible("a", 0))
}

func TestGeminiSolverSolves(t *testing.T) {
	t.Parallel()

	solver, transport := newMockSolver(t, "key-a", "key-b")
	var seenKeys []string
	transport.RegisterResponder(http.MethodPost, generateURL, func(req *http.Request) (*http.Response, error) {
		seenKeys = append(seenKeys, req.Header.Get("x-goog-api-key"))
		var body generateBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, err
		}
		if len(body.Contents) != 1 || len(body.Contents[0].Parts) != 2 {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad request"), nil
		}
		img := body.Contents[0].Parts[0].InlineData
		if img == nil || img.MimeType != "image/png" || string(img.Data) != "png" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad image part"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, answer(" 4₇Xq \n"))
	})

	for i := 0; i < 3; i++ {
		text, err := solver.Solve(context.Background(), []byte("png"))
		require.NoError(t, err)
		require.Equal(t, "47Xq", text)
	}
	require.Equal(t, []string{"key-a", "key-b", "key-a"}, seenKeys)
	require.Equal(t, 3, transport.GetTotalCallCount())
}

func TestGeminiSolverErrors(t *testing.T) {
	t.Parallel()

	t.Run("rate limited", func(t *testing.T) {
		solver, transport := newMockSolver(t, "k")
		transport.RegisterResponder(http.MethodPost, generateURL, httpmock.NewStringResponder(http.StatusTooManyRequests, "quota"))
		_, err := solver.Solve(context.Background(), []byte("png"))
		require.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("rate limited json body", func(t *testing.T) {
		solver, transport := newMockSolver(t, "k")
		responder, err := httpmock.NewJsonResponder(http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"code": 429, "message": "Resource exhausted", "status": "RESOURCE_EXHAUSTED"},
		})
		require.NoError(t, err)
		transport.RegisterResponder(http.MethodPost, generateURL, responder)
		_, err = solver.Solve(context.Background(), []byte("png"))
		require.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("server error", func(t *testing.T) {
		solver, transport := newMockSolver(t, "k")
		transport.RegisterResponder(http.MethodPost, generateURL, httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
		_, err := solver.Solve(context.Background(), []byte("png"))
		require.ErrorContains(t, err, "status 500: boom")
	})

	t.Run("bad json", func(t *testing.T) {
		solver, transport := newMockSolver(t, "k")
		transport.RegisterResponder(http.MethodPost, generateURL, httpmock.NewStringResponder(http.StatusOK, "{"))
		_, err := solver.Solve(context.Background(), []byte("png"))
		require.ErrorContains(t, err, "captcha request")
	})

	t.Run("no candidates", func(t *testing.T) {
		solver, transport := newMockSolver(t, "k")
		transport.RegisterResponder(http.MethodPost, generateURL, httpmock.NewStringResponder(http.StatusOK, `{"candidates":[]}`))
		text, err := solver.Solve(context.Background(), []byte("png"))
		require.NoError(t, err)
		require.Empty(t, text)
	})

	t.Run("empty image", func(t *testing.T) {
		solver, _ := newMockSolver(t, "k")
		_, err := solver.Solve(context.Background(), nil)
		require.Error(t, err)
	})

	t.Run("no keys", func(t *testing.T) {
		_, err := NewGeminiSolver(context.Background(), Config{APIKeys: []string{" ", ""}}, nil, nil)
		require.Error(t, err)
	})
}

type countingSolver struct {
	calls int
	text  string
	err   error
}

func (c *countingSolver) Solve(context.Context, []byte) (string, error) {
	c.calls++
	return c.text, c.err
}

func TestCachingSolver(t *testing.T) {
	t.Parallel()

	inner := &countingSolver{text: "AB12"}
	cache, err := NewCachingSolver(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		text, err := cache.Solve(ctx, []byte("image-1"))
		require.NoError(t, err)
		require.Equal(t, "AB12", text)
	}
	require.Equal(t, 1, inner.calls)

	cache.Forget([]byte("image-1"))
	_, err = cache.Solve(ctx, []byte("image-1"))
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)

	_, _ = cache.Solve(ctx, []byte("image-2"))
	_, _ = cache.Solve(ctx, []byte("image-3"))
	require.Equal(t, 2, cache.Len(), "lru evicts beyond its size")

	inner.text = ""
	_, _ = cache.Solve(ctx, []byte("image-4"))
	_, _ = cache.Solve(ctx, []byte("image-4"))
	require.Equal(t, 6, inner.calls, "empty answers are not cached")

	inner.err = errors.New("model down")
	_, err = cache.Solve(ctx, []byte("image-5"))
	require.ErrorContains(t, err, "model down")

	_, err = NewCachingSolver(nil, 1)
	require.Error(t, err)
}
