package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// DefaultResponsesURL is the OpenAI responses endpoint.
const DefaultResponsesURL = "https://api.openai.com/v1/responses"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config configures an HTTPValidator.
type Config struct {
	ResponsesURL string
	APIKey       string
	Model        string
	HTTPClient   *http.Client
}

// HTTPValidator asks an OpenAI-style responses endpoint for a JSON verdict.
type HTTPValidator struct {
	cfg Config
}

// NewHTTPValidator builds a validator, filling endpoint defaults.
func NewHTTPValidator(cfg Config) *HTTPValidator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = DefaultResponsesURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &HTTPValidator{cfg: cfg}
}

func unavailable(format string, args ...any) error {
	return apperrors.Wrap(apperrors.CodeValidatorUnavailable, "validator unavailable", fmt.Errorf(format, args...))
}

func buildPrompt(criteria, answer, role string) string {
	var b strings.Builder
	b.WriteString("You judge answers in a party game. Decide whether the answer satisfies the criteria.\n")
	b.WriteString("Reply with a single JSON object: {\"isCorrect\": true|false, \"feedback\": \"one short sentence for the player\"}.\n")
	if role != "" {
		fmt.Fprintf(&b, "The player's role is %q; judge in character when the criteria mention roles.\n", role)
	}
	fmt.Fprintf(&b, "Criteria: %s\n", criteria)
	fmt.Fprintf(&b, "Answer: %s\n", answer)
	return b.String()
}

// Evaluate sends the answer for judgement. Transport, status and decoding
// failures are reported as VALIDATOR_UNAVAILABLE.
func (v *HTTPValidator) Evaluate(ctx context.Context, criteria, answer, role string) (domain.ChallengeOutcome, error) {
	criteria = strings.TrimSpace(criteria)
	answer = strings.TrimSpace(answer)
	if criteria == "" {
		return domain.ChallengeOutcome{}, apperrors.New(apperrors.CodeInvalidArgument, "criteria is required")
	}
	if answer == "" {
		return domain.ChallengeOutcome{}, apperrors.New(apperrors.CodeInvalidArgument, "answer is required")
	}
	apiKey := strings.TrimSpace(v.cfg.APIKey)
	if apiKey == "" {
		return domain.ChallengeOutcome{}, unavailable("api key is not configured")
	}

	requestBody, err := json.Marshal(map[string]any{
		"model": v.cfg.Model,
		"input": buildPrompt(criteria, answer, strings.TrimSpace(role)),
	})
	if err != nil {
		return domain.ChallengeOutcome{}, fmt.Errorf("marshal validate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return domain.ChallengeOutcome{}, fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		return domain.ChallengeOutcome{}, unavailable("validate request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.ChallengeOutcome{}, unavailable("validate request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return domain.ChallengeOutcome{}, unavailable("decode validate response: %w", err)
	}
	outputText := strings.TrimSpace(payload.OutputText)
	if outputText == "" {
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" {
					outputText = strings.TrimSpace(content.Text)
					break
				}
			}
			if outputText != "" {
				break
			}
		}
	}
	if outputText == "" {
		return domain.ChallengeOutcome{}, unavailable("validate response missing output text")
	}
	return parseVerdict(outputText)
}

// parseVerdict reads the first JSON object in text. Models often wrap it in
// prose or code fences.
func parseVerdict(text string) (domain.ChallengeOutcome, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.ChallengeOutcome{}, unavailable("verdict is not json: %q", text)
	}
	var verdict struct {
		IsCorrect *bool  `json:"isCorrect"`
		Feedback  string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return domain.ChallengeOutcome{}, unavailable("decode verdict: %w", err)
	}
	if verdict.IsCorrect == nil {
		return domain.ChallengeOutcome{}, unavailable("verdict missing isCorrect")
	}
	return domain.ChallengeOutcome{IsCorrect: *verdict.IsCorrect, Feedback: strings.TrimSpace(verdict.Feedback)}, nil
}
