package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vietddude/triage/internal/core/domain"
)

// Output is the raw result of one classifier call. It is one of Structured,
// Wrapped or Text.
type Output interface {
	isOutput()
}

// Structured is a result already shaped as the three labels.
type Structured struct {
	Category  string `json:"category"`
	Sentiment string `json:"sentiment"`
	Urgency   string `json:"urgency"`
}

// Wrapped carries the labels inside a "response" field, either as an object
// or as a JSON-encoded string.
type Wrapped struct {
	Response json.RawMessage `json:"response"`
}

// Text is free model text expected to contain a labels object, possibly inside
// a fenced code block.
type Text string

func (Structured) isOutput() {}
func (Wrapped) isOutput()    {}
func (Text) isOutput()       {}

var labelKeys = []string{"category", "sentiment", "urgency"}

// DecodeOutput identifies the shape of a JSON classifier payload.
func DecodeOutput(body []byte) (Output, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty output", domain.ErrMalformedClassifierOutput)
	}

	if body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedClassifierOutput, err)
		}
		return Text(s), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: output is not an object: %w", domain.ErrMalformedClassifierOutput, err)
	}
	if raw, ok := fields["response"]; ok {
		return Wrapped{Response: raw}, nil
	}
	for _, k := range labelKeys {
		if _, ok := fields[k]; ok {
			return decodeStructured(body)
		}
	}
	return nil, fmt.Errorf("%w: output has neither labels nor a response field", domain.ErrMalformedClassifierOutput)
}

// Normalize validates an Output into labels. Every shape that carries the same
// labels normalizes to the same result; anything else is malformed.
func Normalize(out Output) (domain.Labels, error) {
	switch o := out.(type) {
	case Structured:
		return o.labels()
	case *Structured:
		if o == nil {
			break
		}
		return o.labels()
	case Wrapped:
		s, err := o.unwrap()
		if err != nil {
			return domain.Labels{}, err
		}
		return s.labels()
	case Text:
		s, err := decodeStructured([]byte(stripFence(string(o))))
		if err != nil {
			return domain.Labels{}, err
		}
		return s.labels()
	}
	return domain.Labels{}, fmt.Errorf("%w: unsupported output %T", domain.ErrMalformedClassifierOutput, out)
}

func (w Wrapped) unwrap() (Structured, error) {
	raw := bytes.TrimSpace(w.Response)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Structured{}, fmt.Errorf("%w: response field is empty", domain.ErrMalformedClassifierOutput)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Structured{}, fmt.Errorf("%w: %w", domain.ErrMalformedClassifierOutput, err)
		}
		raw = []byte(stripFence(s))
	}
	return decodeStructured(raw)
}

// decodeStructured parses a labels object. A nested "response" wrapper is
// rejected so only one level of wrapping is accepted.
func decodeStructured(raw []byte) (Structured, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Structured{}, fmt.Errorf("%w: labels are not a JSON object: %w", domain.ErrMalformedClassifierOutput, err)
	}
	if _, ok := fields["response"]; ok {
		return Structured{}, fmt.Errorf("%w: nested response wrapper", domain.ErrMalformedClassifierOutput)
	}

	values := make(map[string]string, len(labelKeys))
	for _, k := range labelKeys {
		v, ok := fields[k]
		if !ok {
			return Structured{}, fmt.Errorf("%w: %s is missing", domain.ErrMalformedClassifierOutput, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return Structured{}, fmt.Errorf("%w: %s is not a string", domain.ErrMalformedClassifierOutput, k)
		}
		values[k] = s
	}
	return Structured{
		Category:  values["category"],
		Sentiment: values["sentiment"],
		Urgency:   values["urgency"],
	}, nil
}

func (s Structured) labels() (domain.Labels, error) {
	category, err := domain.ParseCategory(s.Category)
	if err != nil {
		return domain.Labels{}, err
	}
	sentiment, err := domain.ParseSentiment(s.Sentiment)
	if err != nil {
		return domain.Labels{}, err
	}
	urgency, err := domain.ParseUrgency(s.Urgency)
	if err != nil {
		return domain.Labels{}, err
	}
	return domain.Labels{Category: category, Sentiment: sentiment, Urgency: urgency}, nil
}

// stripFence removes a surrounding ``` or ```json code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
