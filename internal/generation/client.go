// Package generation wraps the text and image providers behind the calls the
// story session needs, with a bounded timeout per call and classified errors.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/provider"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 90 * time.Second

// Client turns prompts into text and illustration URLs. It never retries;
// the user is the retry mechanism.
type Client struct {
	text    provider.Provider
	image   provider.ImageProvider
	timeout time.Duration
}

// New builds a client. image may be nil when the chosen text provider cannot
// draw; GenerateImage then fails with a generation error.
func New(text provider.Provider, image provider.ImageProvider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{text: text, image: image, timeout: timeout}
}

// GenerateText runs a single-prompt completion and returns the trimmed reply.
func (c *Client) GenerateText(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	if c.text == nil {
		return "", fault.Generation("generate text", errors.New("no text provider configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.text.Chat(ctx, provider.UserPrompt(prompt, temperature, maxTokens))
	if err != nil {
		return "", fault.Generation("generate text", fmt.Errorf("%s: %w", c.text.Name(), err))
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fault.Generation("generate text", fmt.Errorf("%s returned an empty completion", c.text.Name()))
	}
	return content, nil
}

// GenerateImage asks the image provider for one illustration.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if c.image == nil {
		return "", fault.Generation("generate image", errors.New("no image provider configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url, err := c.image.Image(ctx, prompt)
	if err != nil {
		return "", fault.Generation("generate image", err)
	}
	if strings.TrimSpace(url) == "" {
		return "", fault.Generation("generate image", errors.New("provider returned an empty url"))
	}
	return url, nil
}

// ProviderName reports the text provider in use.
func (c *Client) ProviderName() string {
	if c.text == nil {
		return ""
	}
	return c.text.Name()
}
