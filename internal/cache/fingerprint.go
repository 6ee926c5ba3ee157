package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	gateway "github.com/fitstack/llmgate/internal"
)

// Fingerprint returns the deterministic cache key for a request: a SHA-256
// over the normalized prompt, task type, and model-neutral options. UserID
// is not part of the key.
func Fingerprint(req *gateway.Request) string {
	var sb strings.Builder
	sb.WriteString("prompt:")
	sb.WriteString(Normalize(req.Prompt))
	sb.WriteString("|task:")
	sb.WriteString(req.TaskType)
	if req.MaxTokens != nil {
		fmt.Fprintf(&sb, "|max_tokens:%d", *req.MaxTokens)
	}
	if req.Temperature != nil {
		fmt.Fprintf(&sb, "|temperature:%.4f", *req.Temperature)
	}
	fmt.Fprintf(&sb, "|stream:%t", req.Stream)

	h := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(h[:])
}

// Normalize lowercases the prompt and collapses runs of whitespace so that
// trivially reformatted prompts share a fingerprint.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}
