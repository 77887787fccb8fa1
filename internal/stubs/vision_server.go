// Package stubs provides a deterministic stand-in for the vision API so the
// resilience layer can be exercised end to end without credentials or spend.
package stubs

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// VisionServer emulates the provider's chat-completions endpoint. Failure
// injection is driven by query parameters so tests and local runs can force
// specific transport outcomes:
//
//	?fail=429|500|503|401   respond with that status
//	?fail_n=3               fail only the first 3 requests, then succeed
//	?hang=1                 block until the client gives up
//	?latency_ms=250         add fixed latency before responding
type VisionServer struct {
	requests int64
	failN    int64
}

// NewVisionServer creates a stub with zeroed counters.
func NewVisionServer() *VisionServer {
	return &VisionServer{}
}

// Requests returns how many requests reached the stub (for hotpath assertions).
func (s *VisionServer) Requests() int64 {
	return atomic.LoadInt64(&s.requests)
}

type stubResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *VisionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt64(&s.requests, 1)

	if ms, _ := strconv.Atoi(r.URL.Query().Get("latency_ms")); ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
	if r.URL.Query().Get("hang") == "1" {
		// Drain the body first: the HTTP server only watches for client
		// disconnects once the request body hits EOF, and without that the
		// context never cancels and Close hangs on this connection.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
		return
	}
	if failN, _ := strconv.ParseInt(r.URL.Query().Get("fail_n"), 10, 64); failN > 0 && n <= failN {
		http.Error(w, `{"error":{"message":"injected failure","type":"server_error"}}`, http.StatusInternalServerError)
		return
	}
	if code, _ := strconv.Atoi(r.URL.Query().Get("fail")); code >= 400 {
		http.Error(w, fmt.Sprintf(`{"error":{"message":"injected failure","type":"http_%d"}}`, code), code)
		return
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"bad request","type":"invalid_request"}}`, http.StatusBadRequest)
		return
	}

	verdict, confidence := verdictForPrompt(promptText(req.Messages))
	content, _ := json.Marshal(map[string]any{
		"verdict":    verdict,
		"confidence": confidence,
		"reasoning":  "Stubbed analysis derived from the request description.",
	})

	var resp stubResponse
	resp.Model = req.Model
	if resp.Model == "" {
		resp.Model = "stub-vision"
	}
	resp.Choices = make([]struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	resp.Choices[0].Message.Content = string(content)
	resp.Usage.PromptTokens = 900
	resp.Usage.CompletionTokens = 150

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func promptText(messages []struct {
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}) string {
	var b strings.Builder
	for _, m := range messages {
		for _, c := range m.Content {
			if c.Type == "text" {
				b.WriteString(strings.ToLower(c.Text))
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}

// verdictForPrompt keeps the stub deterministic: bullish wording yields
// Diamond, bearish yields Skull, everything else Fire.
func verdictForPrompt(text string) (string, int) {
	switch {
	case strings.Contains(text, "bullish") || strings.Contains(text, "breakout"):
		return "Diamond", 82
	case strings.Contains(text, "bearish") || strings.Contains(text, "breakdown"):
		return "Skull", 78
	default:
		return "Fire", 55
	}
}
