package validator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestNewHTTPValidatorDefaults(t *testing.T) {
	v := NewHTTPValidator(Config{})
	if v.cfg.HTTPClient == nil {
		t.Fatal("expected non-nil HTTP client")
	}
	if v.cfg.ResponsesURL != DefaultResponsesURL {
		t.Fatalf("responses url = %q", v.cfg.ResponsesURL)
	}
	if v.cfg.Model != DefaultModel {
		t.Fatalf("model = %q", v.cfg.Model)
	}
}

func TestHTTPValidatorEvaluate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"output":[{"content":[{"type":"output_text","text":"Sure! {\"isCorrect\": true, \"feedback\": \" Nice work \"}"}]}]}`)
	}))
	defer srv.Close()

	v := NewHTTPValidator(Config{ResponsesURL: srv.URL, APIKey: "sk-test", Model: "m1"})
	outcome, err := v.Evaluate(context.Background(), "name a red fruit", "apple", "scout")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !outcome.IsCorrect || outcome.Feedback != "Nice work" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody["model"] != "m1" {
		t.Fatalf("model = %v", gotBody["model"])
	}
	input, _ := gotBody["input"].(string)
	if !strings.Contains(input, "apple") || !strings.Contains(input, "scout") {
		t.Fatalf("input = %q", input)
	}
}

func TestHTTPValidatorFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "status", status: http.StatusBadGateway, body: "upstream down"},
		{name: "not json", status: http.StatusOK, body: "nope"},
		{name: "no output", status: http.StatusOK, body: `{"output_text":"  "}`},
		{name: "prose verdict", status: http.StatusOK, body: `{"output_text":"yes it is right"}`},
		{name: "missing field", status: http.StatusOK, body: `{"output_text":"{\"feedback\":\"hm\"}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: tt.status,
					Header:     make(http.Header),
					Body:       io.NopCloser(strings.NewReader(tt.body)),
				}, nil
			})}
			v := NewHTTPValidator(Config{APIKey: "k", HTTPClient: client})
			_, err := v.Evaluate(context.Background(), "c", "a", "")
			if !apperrors.IsCode(err, apperrors.CodeValidatorUnavailable) {
				t.Fatalf("err = %v, want %s", err, apperrors.CodeValidatorUnavailable)
			}
		})
	}
}

func TestHTTPValidatorValidation(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatalf("round trip should not execute: %v", req.URL)
		return nil, nil
	})}
	v := NewHTTPValidator(Config{APIKey: "k", HTTPClient: client})
	if _, err := v.Evaluate(context.Background(), " ", "a", ""); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("empty criteria err = %v", err)
	}
	if _, err := v.Evaluate(context.Background(), "c", "", ""); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("empty answer err = %v", err)
	}
	noKey := NewHTTPValidator(Config{HTTPClient: client})
	if _, err := noKey.Evaluate(context.Background(), "c", "a", ""); !apperrors.IsCode(err, apperrors.CodeValidatorUnavailable) {
		t.Fatalf("missing key err = %v", err)
	}
}

func TestWithFallback(t *testing.T) {
	ok := Func(func(context.Context, string, string, string) (domain.ChallengeOutcome, error) {
		return domain.ChallengeOutcome{IsCorrect: true, Feedback: "yes"}, nil
	})
	broken := Func(func(context.Context, string, string, string) (domain.ChallengeOutcome, error) {
		return domain.ChallengeOutcome{IsCorrect: true}, errors.New("boom")
	})
	slow := Func(func(ctx context.Context, _, _, _ string) (domain.ChallengeOutcome, error) {
		<-ctx.Done()
		return domain.ChallengeOutcome{}, ctx.Err()
	})
	stuck := Func(func(context.Context, string, string, string) (domain.ChallengeOutcome, error) {
		time.Sleep(time.Second)
		return domain.ChallengeOutcome{IsCorrect: true}, nil
	})
	panicky := Func(func(context.Context, string, string, string) (domain.ChallengeOutcome, error) {
		panic("validator exploded")
	})

	tests := []struct {
		name string
		v    Validator
		want domain.ChallengeOutcome
	}{
		{name: "passes through", v: ok, want: domain.ChallengeOutcome{IsCorrect: true, Feedback: "yes"}},
		{name: "error", v: broken, want: domain.ChallengeOutcome{Feedback: GenericFailureFeedback}},
		{name: "timeout", v: slow, want: domain.ChallengeOutcome{Feedback: GenericFailureFeedback}},
		{name: "ignores deadline", v: stuck, want: domain.ChallengeOutcome{Feedback: GenericFailureFeedback}},
		{name: "panic", v: panicky, want: domain.ChallengeOutcome{Feedback: GenericFailureFeedback}},
		{name: "nil", v: nil, want: domain.ChallengeOutcome{Feedback: GenericFailureFeedback}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			got, err := WithFallback(tt.v, 20*time.Millisecond).Evaluate(context.Background(), "c", "a", "")
			if err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Fatalf("evaluate took %v, want it bounded by the timeout", elapsed)
			}
			if got != tt.want {
				t.Fatalf("outcome = %+v, want %+v", got, tt.want)
			}
		})
	}
}
