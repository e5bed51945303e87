package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/face"
	"github.com/example/faceid/internal/handlers"
	"github.com/example/faceid/internal/imagecodec"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/usecase"
)

// blockingService holds VerifyImage open until release is closed.
type blockingService struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingService) VerifyImage(ctx context.Context, imageBytes []byte) (string, *face.Decision, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return "req-shutdown", &face.Decision{Accepted: true, Identity: "maitri", Confidence: 98, Reason: face.ReasonAccepted}, nil
}

func (s *blockingService) VerifyDataURL(ctx context.Context, payload string) (string, *face.Decision, error) {
	return s.VerifyImage(ctx, nil)
}

func (s *blockingService) Detect(ctx context.Context, imageBytes []byte) face.Detection {
	return face.Detection{}
}

func (s *blockingService) DetectDataURL(ctx context.Context, payload string) face.Detection {
	return face.Detection{}
}

func (s *blockingService) GetResult(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	return nil, errors.New("not found")
}

func (s *blockingService) GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error) {
	return nil, errors.New("not found")
}

func (s *blockingService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{}, nil
}

func (s *blockingService) Login(ctx context.Context, username, password string) (*usecase.LoginResult, error) {
	return &usecase.LoginResult{Message: usecase.MsgLoginInvalid}, nil
}

func (s *blockingService) ListUsers(ctx context.Context) ([]usecase.UserStatus, error) {
	return nil, nil
}

func (s *blockingService) Health(ctx context.Context) usecase.HealthStatus {
	return usecase.HealthStatus{Status: "healthy"}
}

func (s *blockingService) ReloadEnrollment(ctx context.Context) (*usecase.EnrollmentSummary, error) {
	return &usecase.EnrollmentSummary{}, nil
}

func (s *blockingService) IssueToken(identity, method string) (string, time.Time, error) {
	return "token-" + identity + "-" + method, time.Now().Add(time.Hour), nil
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	data, err := imagecodec.EncodePNG(face.NewPixelGrid(4, 4))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "frame.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestServerGracefulShutdownDrainsVerification(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &blockingService{started: make(chan struct{}), release: make(chan struct{})}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(svc.release) }) }
	defer release()

	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, svc, auth.JWTMiddleware("test-secret", ""))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, zap.NewNop(), listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	body, contentType := pngUpload(t)
	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/api/verify", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("verification did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	release()

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, raw)
		}
		var out map[string]interface{}
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("invalid body %s: %v", raw, err)
		}
		if out["request_id"] != "req-shutdown" || out["username"] != "maitri" || out["token"] != "token-maitri-face" {
			t.Fatalf("unexpected verification response %v", out)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestServerReturnsListenerFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	listener.Close()

	server := &http.Server{Handler: http.NewServeMux()}
	signalCh := make(chan os.Signal)

	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, time.Second, zap.NewNop(), listener, signalCh)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected serve error from closed listener")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
