// Package main provides a mock LLM provider for testing the gateway without
// burning real tokens. It serves the OpenAI chat-completions shape and
// returns canned compliance output wrapped in a markdown fence, the way real
// models tend to answer even when told not to.
//
// Failure modes for exercising the retry and breaker paths:
//
//	/__status/{code}  force the next N responses to the given status
//	-fail-rate        randomly fail a fraction of calls with 502
//	-latency          fixed artificial latency per call
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var (
	forcedStatus atomic.Int64
	forcedCount  atomic.Int64
)

func main() {
	port := flag.Int("port", 3100, "port to listen on")
	failRate := flag.Float64("fail-rate", 0, "fraction of calls to fail with 502 (0..1)")
	latency := flag.Duration("latency", 0, "artificial latency per call")
	fenced := flag.Bool("fenced", true, "wrap JSON output in a markdown code fence")
	flag.Parse()

	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/__status/"), "/")
		code, err := strconv.Atoi(parts[0])
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status code", http.StatusBadRequest)
			return
		}
		count := 1
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n > 0 {
				count = n
			}
		}
		forcedStatus.Store(int64(code))
		forcedCount.Store(int64(count))
		fmt.Fprintf(w, "next %d responses will be %d\n", count, code)
	})

	http.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if *latency > 0 {
			time.Sleep(*latency)
		}

		if forcedCount.Load() > 0 {
			forcedCount.Add(-1)
			code := int(forcedStatus.Load())
			if code == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "1")
			}
			w.WriteHeader(code)
			return
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		content := cannedContent(lastUserMessage(req.Messages))
		if *fenced {
			content = "```json\n" + content + "\n```"
		}

		resp := map[string]any{
			"id":    "chatcmpl-mock",
			"model": req.Model,
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 200, "total_tokens": 300},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock LLM provider listening on %s (fail-rate=%.2f latency=%s)", addr, *failRate, *latency)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func lastUserMessage(messages []struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// cannedContent picks a response shape by sniffing the prompt. The prompts
// for the three operations each carry a distinctive instruction.
func cannedContent(prompt string) string {
	switch {
	case strings.Contains(prompt, `"entries"`):
		return `{"framework":"SOC2","entries":[{"obligation_id":"mock-ob-1","control_id":"CC6.5","code_path":"internal/retention/erase.go","status":"partial","rationale":"erasure exists but lacks audit logging"}]}`
	case strings.Contains(prompt, "Language:"):
		return `{"files":[{"path":"internal/retention/erase.go","language":"go","content":"package retention\n\n// Erase removes a subject's personal data.\nfunc Erase(subjectID string) error { return nil }\n"}],"notes":"wire Erase into the deletion workflow"}`
	default:
		return `{"obligations":[{"id":"mock-ob-1","summary":"Erase personal data without undue delay on request","category":"data_retention","actor":"controller","citation":"Art. 17(1)","mandatory":true,"jurisdiction":"EU"}]}`
	}
}
