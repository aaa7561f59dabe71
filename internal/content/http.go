package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	logx "dailycast/pkg/logx"
)

type HTTPConfig struct {
	URL     string
	Headers map[string]string
	// Template renders the decoded JSON body into the message text.
	Template string
	// IDTemplate renders the dedup id. Empty means the item has no id.
	IDTemplate string
	ParseMode  string

	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTP fetches a JSON document and renders it with text/template.
// Retries on connection errors, 429 and 5xx follow go-retryablehttp's policy.
type HTTP struct {
	url       string
	headers   map[string]string
	text      *template.Template
	id        *template.Template
	parseMode string
	client    *retryablehttp.Client
}

const maxBodyBytes = 1 << 20

var funcs = template.FuncMap{
	"trim":  strings.TrimSpace,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

func NewHTTP(cfg HTTPConfig, log logx.Logger) (*HTTP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("http source: url is required")
	}
	text, err := template.New("text").Funcs(funcs).Option("missingkey=error").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("http source %s: template: %w", cfg.URL, err)
	}
	var id *template.Template
	if strings.TrimSpace(cfg.IDTemplate) != "" {
		id, err = template.New("id").Funcs(funcs).Option("missingkey=error").Parse(cfg.IDTemplate)
		if err != nil {
			return nil, fmt.Errorf("http source %s: id template: %w", cfg.URL, err)
		}
	}

	c := newRetryClient(retryConfig{
		Timeout:      cfg.Timeout,
		Retries:      cfg.Retries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
	}, log.With(logx.String("comp", "content.http"), logx.String("url", cfg.URL)), log.IsZero())

	return &HTTP{
		url:       cfg.URL,
		headers:   cfg.Headers,
		text:      text,
		id:        id,
		parseMode: cfg.ParseMode,
		client:    c,
	}, nil
}

func (h *HTTP) Next(ctx context.Context) (Message, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("get %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("get %s: status %d", h.url, resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return Message{}, fmt.Errorf("decode %s: %w", h.url, err)
	}

	text, err := render(h.text, doc)
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, fmt.Errorf("render %s: %w", h.url, ErrNoContent)
	}
	m := Message{Text: text, ParseMode: h.parseMode}
	if h.id != nil {
		if m.ID, err = render(h.id, doc); err != nil {
			return Message{}, err
		}
		m.ID = strings.TrimSpace(m.ID)
	}
	return m, nil
}

type retryConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// newRetryClient builds the client every HTTP-backed source uses. A quiet
// client logs nothing.
func newRetryClient(cfg retryConfig, log logx.Logger, quiet bool) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.Retries
	if cfg.RetryWaitMin > 0 {
		c.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		c.RetryWaitMax = cfg.RetryWaitMax
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = c.RetryWaitMin
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.HTTPClient.Timeout = timeout
	if quiet {
		c.Logger = nil
	} else {
		c.Logger = leveledLogger{log}
	}
	return c
}

func render(t *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return b.String(), nil
}

// leveledLogger adapts logx to retryablehttp.LeveledLogger.
type leveledLogger struct{ log logx.Logger }

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.String(k, fmt.Sprint(kv[i+1])))
	}
	return out
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Warn(msg, kvFields(kv)...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug(msg, kvFields(kv)...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, kvFields(kv)...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn(msg, kvFields(kv)...) }
