package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"avsync/internal/events"
)

// Client talks to a running daemon's HTTP API. The command-line tool is its
// only consumer, so it mirrors the server's routes one method per route.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a client for the daemon at baseURL, e.g.
// "http://127.0.0.1:8710".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit uploads a video file and returns the accepted session.
func (c *Client) Submit(ctx context.Context, path string) (SessionView, error) {
	file, err := os.Open(path)
	if err != nil {
		return SessionView{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", pr)
	if err != nil {
		return SessionView{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var view SessionView
	if err := c.do(req, http.StatusAccepted, &view); err != nil {
		return SessionView{}, err
	}
	return view, nil
}

// List fetches all sessions, newest first.
func (c *Client) List(ctx context.Context) ([]SessionView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	var views []SessionView
	if err := c.do(req, http.StatusOK, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Get fetches one session by ID.
func (c *Client) Get(ctx context.Context, id string) (SessionView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+id, nil)
	if err != nil {
		return SessionView{}, err
	}
	var view SessionView
	if err := c.do(req, http.StatusOK, &view); err != nil {
		return SessionView{}, err
	}
	return view, nil
}

// Iterations fetches the audit trail of correction passes for a session.
func (c *Client) Iterations(ctx context.Context, id string) ([]IterationView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+id+"/iterations", nil)
	if err != nil {
		return nil, err
	}
	var views []IterationView
	if err := c.do(req, http.StatusOK, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Health fetches daemon diagnostics. A degraded daemon answers 503 with the
// same payload, so both statuses decode.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthResponse{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return HealthResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return HealthResponse{}, c.errorFrom(resp)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return HealthResponse{}, fmt.Errorf("decode health: %w", err)
	}
	return health, nil
}

// Download streams a completed session's corrected output into targetDir and
// returns the written path.
func (c *Client) Download(ctx context.Context, id, targetDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+id+"/result", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", c.errorFrom(resp)
	}

	filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = "corrected_" + id
	}
	target := filepath.Join(targetDir, filename)
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(target)
		return "", err
	}
	return target, out.Close()
}

// Watch subscribes to a session's event stream. Events arrive on the returned
// channel until the context ends or the server closes the stream. Watch does
// not time out; the caller bounds it through ctx.
func (c *Client) Watch(ctx context.Context, id string) (<-chan events.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+id+"/events", nil)
	if err != nil {
		return nil, err
	}
	stream := &http.Client{}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFrom(resp)
	}

	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt events.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, parsed.Error)
	}
	return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func filenameFromDisposition(disposition string) string {
	const marker = "filename="
	idx := strings.Index(disposition, marker)
	if idx < 0 {
		return ""
	}
	name := strings.Trim(disposition[idx+len(marker):], `"`)
	return filepath.Base(name)
}
