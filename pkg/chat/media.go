package chat

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fleet-tools/botfleet/pkg/errors"
)

const (
	imageBaseURL = "https://image.pollinations.ai/prompt/"
	voiceBaseURL = "https://text.pollinations.ai/"

	// DefaultVoice is the voice used when a caller does not pick one.
	DefaultVoice = "dan"
)

var mediaClient = &http.Client{Timeout: 60 * time.Second}

// GenerateImage fetches a generated image for a prompt and returns the raw
// image bytes.
func GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if prompt == "" {
		return nil, errors.NewValidationError("image prompt cannot be empty", nil)
	}

	query := url.PathEscape(prompt + "no-logo")
	requestURL := imageBaseURL + query +
		"?nolog=true&nologo=true&width=800&height=800&enhance=true&safe=false&model=flux&seed=4438"

	return fetchMedia(ctx, requestURL)
}

// GenerateVoice fetches synthesized speech for a text and returns the raw
// audio bytes.
func GenerateVoice(ctx context.Context, text string, voice string) ([]byte, error) {
	if text == "" {
		return nil, errors.NewValidationError("voice text cannot be empty", nil)
	}
	if voice == "" {
		voice = DefaultVoice
	}

	// The endpoint echoes whatever it is told; pin it to plain repetition.
	prompt := "Repeat the exact text, no adding anything else: " + text
	requestURL := voiceBaseURL + url.PathEscape(prompt) + "?model=openai-audio&voice=" + url.QueryEscape(voice)

	return fetchMedia(ctx, requestURL)
}

func fetchMedia(ctx context.Context, requestURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errors.NewInternalError("failed to build media request", err)
	}

	response, err := mediaClient.Do(request)
	if err != nil {
		return nil, errors.NewIOError("media request failed", err).WithContext("url", requestURL)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.NewIOError("media request returned non-OK status", nil).
			WithContext("url", requestURL).
			WithContext("status", response.StatusCode)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.NewIOError("failed to read media response", err).WithContext("url", requestURL)
	}
	return data, nil
}
