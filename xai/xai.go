// Package xai adapts the xAI Grok API, which is OpenAI-compatible.
package xai

import (
	"loremaster/client"
	"loremaster/openai"
)

const baseURL = "https://api.x.ai/v1"

// New creates an xAI adapter.
func New(apiKey string) client.ChatStreamer {
	return openai.NewCompat("xai", apiKey, baseURL)
}
