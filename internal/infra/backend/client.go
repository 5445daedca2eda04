package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"quiz-offline-service/internal/domain"
	"quiz-offline-service/internal/offline"
)

// Client reads the question bank API. Requests go through fetcher, normally an
// offline.ClientFetcher so answers come from the active worker's cache when the
// API is unreachable.
type Client struct {
	fetcher offline.Fetcher
	baseURL string
	logger  *zap.Logger
}

// NewClient targets baseURL, the API root including its prefix
// (e.g. https://quiz.example/api).
func NewClient(fetcher offline.Fetcher, baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// LoadQuestions fetches the whole collection.
func (c *Client) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	var out []domain.Question
	if err := c.get(ctx, c.baseURL+"/questions", &out); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if out == nil {
		out = []domain.Question{}
	}
	return out, nil
}

// LoadQuestion fetches one question by path, retrying once with the questionId
// query parameter when the path lookup fails.
func (c *Client) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	itemURL := c.baseURL + "/questions/" + url.PathEscape(id)

	var q domain.Question
	err := c.get(ctx, itemURL, &q)
	if err == nil && (q.ID != "" || q.QuestionID != "") {
		return q, nil
	}
	c.logger.Debug("question lookup failed, retrying with questionId",
		zap.String("question", id), zap.Error(err))

	q = domain.Question{}
	retryErr := c.get(ctx, itemURL+"?"+url.Values{"questionId": {id}}.Encode(), &q)
	if retryErr != nil {
		return domain.Question{}, fmt.Errorf("load question %s: %w", id, retryErr)
	}
	if q.ID == "" && q.QuestionID == "" {
		return domain.Question{}, fmt.Errorf("load question %s: %w", id, domain.ErrQuestionNotFound)
	}
	return q, nil
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// get decodes either {"data": ...} or a bare payload into dst.
func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var env envelope
	wrapped := json.Unmarshal(body, &env) == nil && bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrQuestionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if wrapped && env.Message != "" {
			return fmt.Errorf("%w: %d %s", domain.ErrUpstreamStatus, resp.StatusCode, env.Message)
		}
		return fmt.Errorf("%w: %d", domain.ErrUpstreamStatus, resp.StatusCode)
	}

	payload := body
	if wrapped && len(env.Data) > 0 {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
