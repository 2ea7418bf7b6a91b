// Package speech wraps the text-to-speech collaborator. Synthesis is best
// effort: any failure yields a chat message without audio, never an error
// surfaced to the world.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesizer turns text into a playable audio data URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Nop never produces audio. Used when no TTS endpoint is configured.
type Nop struct{}

func (Nop) Synthesize(context.Context, string) (string, error) { return "", nil }

const maxAudioBytes = 8 << 20

// Client posts text to an HTTP TTS service and returns the response audio as
// a data URL suitable for the chat message audioSrc field.
type Client struct {
	url     string
	httpc   *http.Client
	timeout time.Duration
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{url: url, httpc: &http.Client{Timeout: timeout}, timeout: timeout}
}

func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts service returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("tts service returned empty body")
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(audio)), nil
}
