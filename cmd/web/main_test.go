package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"AssistantChat/internal/ai"
	"AssistantChat/internal/config"
)

func TestRun_MissingKeyIsAnError(t *testing.T) {
	cfg := config.Defaults()
	cfg.OpenAI.APIKey = ""
	cfg.LogLevel = "error"

	require.ErrorIs(t, run(cfg), ai.ErrMissingAPIKey)
}
