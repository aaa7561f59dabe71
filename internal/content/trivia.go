package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

// DefaultTriviaURL is the Open Trivia DB question endpoint.
const DefaultTriviaURL = "https://opentdb.com/api.php"

type TriviaConfig struct {
	// URL defaults to DefaultTriviaURL.
	URL string
	// Category is an Open Trivia DB category id; 0 means any.
	Category int
	// Difficulty is easy, medium or hard; empty means any.
	Difficulty string

	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Trivia fetches one multiple-choice question per call and returns it as a
// quiz poll with the options shuffled.
type Trivia struct {
	endpoint string
	client   *retryablehttp.Client
	shuffle  func(n int, swap func(i, j int))
}

func NewTrivia(cfg TriviaConfig, log logx.Logger) (*Trivia, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		raw = DefaultTriviaURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("trivia source: url: %w", err)
	}
	q := u.Query()
	q.Set("amount", "1")
	q.Set("type", "multiple")
	q.Set("encode", "url3986")
	if cfg.Category > 0 {
		q.Set("category", strconv.Itoa(cfg.Category))
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Difficulty)); d != "" {
		q.Set("difficulty", d)
	}
	u.RawQuery = q.Encode()

	c := newRetryClient(retryConfig{
		Timeout:      cfg.Timeout,
		Retries:      cfg.Retries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
	}, log.With(logx.String("comp", "content.trivia")), log.IsZero())
	return &Trivia{endpoint: u.String(), client: c, shuffle: rand.Shuffle}, nil
}

type triviaResponse struct {
	ResponseCode int `json:"response_code"`
	Results      []struct {
		Category   string   `json:"category"`
		Difficulty string   `json:"difficulty"`
		Question   string   `json:"question"`
		Correct    string   `json:"correct_answer"`
		Incorrect  []string `json:"incorrect_answers"`
	} `json:"results"`
}

func (t *Trivia) Next(ctx context.Context) (Message, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("trivia: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("trivia: status %d", resp.StatusCode)
	}

	var body triviaResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return Message{}, fmt.Errorf("trivia: decode: %w", err)
	}
	if body.ResponseCode != 0 || len(body.Results) == 0 {
		return Message{}, fmt.Errorf("trivia: response code %d: %w", body.ResponseCode, ErrNoContent)
	}

	r := body.Results[0]
	fields := append([]string{r.Question, r.Category, r.Difficulty, r.Correct}, r.Incorrect...)
	for i, f := range fields {
		if fields[i], err = url.PathUnescape(f); err != nil {
			return Message{}, fmt.Errorf("trivia: decode field: %w", err)
		}
	}
	question, category, difficulty := fields[0], fields[1], fields[2]
	if strings.TrimSpace(question) == "" || len(r.Incorrect) == 0 {
		return Message{}, fmt.Errorf("trivia: incomplete question: %w", ErrNoContent)
	}

	// Options are the wrong answers followed by the right one.
	options := make([]string, 0, len(r.Incorrect)+1)
	options = append(options, fields[4:]...)
	options = append(options, fields[3])
	correct := len(options) - 1
	t.shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
		switch correct {
		case i:
			correct = j
		case j:
			correct = i
		}
	})

	sum := sha256.Sum256([]byte(question))
	return Message{
		ID:   "trivia:" + hex.EncodeToString(sum[:8]),
		Text: question,
		Poll: &kit.Poll{
			Question:      question,
			Options:       options,
			Quiz:          true,
			CorrectOption: correct,
			Explanation:   fmt.Sprintf("Category: %s\nDifficulty: %s", category, titleWord(difficulty)),
		},
	}, nil
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
