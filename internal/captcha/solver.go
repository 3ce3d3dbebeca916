package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SolverConfig configures the hosted solving service client.
type SolverConfig struct {
	APIKey       string
	Endpoint     string
	PollInterval time.Duration
	PollBudget   time.Duration
}

const (
	defaultEndpoint     = "https://api.anti-captcha.com"
	defaultPollInterval = 5 * time.Second
	defaultPollBudget   = 2 * time.Minute
)

// HTTPSolver implements scrape.Solver against an anti-captcha style task
// API: create a task for (pageURL, siteKey), then poll until the service
// returns a response token.
type HTTPSolver struct {
	cfg    SolverConfig
	client *http.Client
}

// NewHTTPSolver constructs a solver client. The API key is required.
func NewHTTPSolver(cfg SolverConfig, client *http.Client) (*HTTPSolver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("solver api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = defaultPollBudget
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSolver{cfg: cfg, client: client}, nil
}

type createTaskRequest struct {
	ClientKey string   `json:"clientKey"`
	Task      taskSpec `json:"task"`
}

type taskSpec struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// Solve submits the challenge and blocks until the service produces a
// token, the poll budget runs out, or ctx is canceled.
func (s *HTTPSolver) Solve(ctx context.Context, pageURL, siteKey string) (string, error) {
	taskID, err := s.createTask(ctx, pageURL, siteKey)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.cfg.PollBudget)
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("solver poll budget exhausted for task %d", taskID)
		}
		if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
			return "", err
		}

		token, ready, err := s.taskResult(ctx, taskID)
		if err != nil {
			return "", err
		}
		if ready {
			return token, nil
		}
	}
}

func (s *HTTPSolver) createTask(ctx context.Context, pageURL, siteKey string) (int64, error) {
	var resp createTaskResponse
	err := s.post(ctx, "/createTask", createTaskRequest{
		ClientKey: s.cfg.APIKey,
		Task: taskSpec{
			Type:       "RecaptchaV2TaskProxyless",
			WebsiteURL: pageURL,
			WebsiteKey: siteKey,
		},
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, fmt.Errorf("solver rejected task: %s", resp.ErrorDescription)
	}
	return resp.TaskID, nil
}

func (s *HTTPSolver) taskResult(ctx context.Context, taskID int64) (string, bool, error) {
	var resp taskResultResponse
	err := s.post(ctx, "/getTaskResult", taskResultRequest{
		ClientKey: s.cfg.APIKey,
		TaskID:    taskID,
	}, &resp)
	if err != nil {
		return "", false, err
	}
	if resp.ErrorID != 0 {
		return "", false, fmt.Errorf("solver task %d failed: %s", taskID, resp.ErrorDescription)
	}
	if resp.Status != "ready" {
		return "", false, nil
	}
	return resp.Solution.GRecaptchaResponse, true, nil
}

func (s *HTTPSolver) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal solver request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call solver %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solver %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode solver response: %w", err)
	}
	return nil
}
