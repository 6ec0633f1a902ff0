package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/config"
)

// ErrAIExhausted means every endpoint in the fallback chain failed.
var ErrAIExhausted = errors.New("all AI endpoints failed")

// AIRelay forwards free text to a ranked list of chat endpoints. Each
// endpoint gets exactly one try per query; the first non-empty reply
// wins and no later endpoint is contacted.
type AIRelay struct {
	endpoints []config.AIEndpoint
	client    *http.Client
}

func NewAIRelay(endpoints []config.AIEndpoint, timeout time.Duration) *AIRelay {
	return &AIRelay{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
	}
}

// Ask tries every endpoint in rank order and returns the first usable
// reply.
func (r *AIRelay) Ask(ctx context.Context, query string) (string, error) {
	for i, ep := range r.endpoints {
		reply, err := r.askOne(ctx, ep, query)
		if err != nil {
			log.Printf("DEBUG: AI endpoint %d failed: %v", i+1, err)
			continue
		}
		return reply, nil
	}
	return "", ErrAIExhausted
}

func (r *AIRelay) askOne(ctx context.Context, ep config.AIEndpoint, query string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+url.QueryEscape(query), nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	reply, ok := lookupPath(body, ep.ReplyField)
	if !ok || strings.TrimSpace(reply) == "" {
		return "", errors.New("empty reply field")
	}
	return reply, nil
}

// lookupPath walks a dot-separated path through nested JSON objects and
// returns the string at the leaf.
func lookupPath(body map[string]interface{}, path string) (string, bool) {
	var current interface{} = body
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = obj[key]
		if !ok {
			return "", false
		}
	}
	s, ok := current.(string)
	return s, ok
}
