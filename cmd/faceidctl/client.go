package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"
)

// apiClient talks to the face id HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type healthResponse struct {
	Status                   string `json:"status"`
	FaceRecognitionAvailable bool   `json:"face_recognition_available"`
	RegisteredUsers          int    `json:"registered_users"`
	EnrolledFaces            int    `json:"enrolled_faces"`
}

type userEntry struct {
	Username    string `json:"username"`
	HasFaceData bool   `json:"has_face_data"`
}

type usersResponse struct {
	Users []userEntry `json:"users"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type boundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type detectResponse struct {
	Success              bool          `json:"success"`
	ReadyForVerification bool          `json:"ready_for_verification"`
	Message              string        `json:"message"`
	Reason               string        `json:"reason"`
	BoundingBoxes        []boundingBox `json:"bounding_boxes"`
	Error                string        `json:"error"`
}

type verifyResponse struct {
	RequestID  string  `json:"request_id"`
	Success    bool    `json:"success"`
	Username   *string `json:"username"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Message    string  `json:"message"`
	Token      string  `json:"token"`
	Error      string  `json:"error"`
}

// apiError is a non-2xx response the command cannot interpret.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func asAPIError(err error) (*apiError, bool) {
	var apiErr *apiError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

func (c *apiClient) Health(ctx context.Context) (*healthResponse, error) {
	var out healthResponse
	return &out, c.do(ctx, http.MethodGet, "/health", nil, "", &out)
}

func (c *apiClient) Users(ctx context.Context) ([]userEntry, error) {
	var out usersResponse
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// Login returns the decoded body for 200 and 401 alike; both carry a message.
func (c *apiClient) Login(ctx context.Context, username, password string) (*loginResponse, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	var out loginResponse
	err = c.do(ctx, http.MethodPost, "/api/login", bytes.NewReader(body), "application/json", &out)
	if apiErr, ok := asAPIError(err); ok && apiErr.Status == http.StatusUnauthorized {
		return &out, nil
	}
	return &out, err
}

func (c *apiClient) Detect(ctx context.Context, filename string, data []byte) (*detectResponse, error) {
	body, contentType, err := imageForm(filename, data)
	if err != nil {
		return nil, err
	}
	var out detectResponse
	return &out, c.do(ctx, http.MethodPost, "/api/detect", body, contentType, &out)
}

func (c *apiClient) Verify(ctx context.Context, filename string, data []byte) (*verifyResponse, error) {
	body, contentType, err := imageForm(filename, data)
	if err != nil {
		return nil, err
	}
	var out verifyResponse
	return &out, c.do(ctx, http.MethodPost, "/api/verify", body, contentType, &out)
}

func (c *apiClient) Result(ctx context.Context, requestID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/result/"+requestID, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(raw) > 0 && out != nil {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	return nil
}

func imageForm(filename string, data []byte) (io.Reader, string, error) {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
