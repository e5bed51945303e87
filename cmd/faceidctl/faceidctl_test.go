package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCollectEnrollmentImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ravi", "b.JPG"), []byte("x"))
	writeFile(t, filepath.Join(dir, "ravi", "a.png"), []byte("x"))
	writeFile(t, filepath.Join(dir, "maitri", "1.jpeg"), []byte("x"))
	writeFile(t, filepath.Join(dir, "maitri", "notes.txt"), []byte("x"))
	writeFile(t, filepath.Join(dir, "stray.png"), []byte("x"))

	images, err := collectEnrollmentImages(dir)
	if err != nil {
		t.Fatalf("collectEnrollmentImages: %v", err)
	}
	var got []string
	for _, img := range images {
		got = append(got, img.Identity+"/"+filepath.Base(img.Path))
	}
	want := "maitri/1.jpeg ravi/a.png ravi/b.JPG"
	if strings.Join(got, " ") != want {
		t.Fatalf("got %v, want %s", got, want)
	}

	if _, err := collectEnrollmentImages(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

type fakeDetector struct {
	responses map[string]*detectResponse
	errs      map[string]error
}

func (f *fakeDetector) Detect(ctx context.Context, filename string, data []byte) (*detectResponse, error) {
	base := filepath.Base(filename)
	if err := f.errs[base]; err != nil {
		return &detectResponse{}, err
	}
	return f.responses[base], nil
}

func TestCheckEnrollmentReportsNotReadyImages(t *testing.T) {
	dir := t.TempDir()
	images := []enrollmentImage{
		{Identity: "maitri", Path: filepath.Join(dir, "good.png")},
		{Identity: "maitri", Path: filepath.Join(dir, "group.png")},
		{Identity: "ravi", Path: filepath.Join(dir, "huge.png")},
		{Identity: "ravi", Path: filepath.Join(dir, "gone.png")},
	}
	for _, img := range images[:3] {
		writeFile(t, img.Path, []byte("x"))
	}
	d := &fakeDetector{
		responses: map[string]*detectResponse{
			"good.png":  {ReadyForVerification: true, Message: "ready"},
			"group.png": {Message: "Multiple faces detected. Please ensure only one face is visible."},
		},
		errs: map[string]error{"huge.png": &apiError{Status: http.StatusRequestEntityTooLarge, Body: "too large"}},
	}

	steps := 0
	issues, err := checkEnrollment(context.Background(), d, images, func() { steps++ })
	if err != nil {
		t.Fatalf("checkEnrollment: %v", err)
	}
	if steps != len(images) {
		t.Fatalf("progress advanced %d times, want %d", steps, len(images))
	}
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %+v", issues)
	}
	if !strings.HasPrefix(issues[0].Message, "Multiple faces") || filepath.Base(issues[1].Image.Path) != "huge.png" {
		t.Fatalf("unexpected issues %+v", issues)
	}
}

func TestCheckEnrollmentAbortsOnServerError(t *testing.T) {
	dir := t.TempDir()
	img := enrollmentImage{Identity: "maitri", Path: filepath.Join(dir, "a.png")}
	writeFile(t, img.Path, []byte("x"))
	d := &fakeDetector{errs: map[string]error{"a.png": &apiError{Status: http.StatusInternalServerError}}}

	if _, err := checkEnrollment(context.Background(), d, []enrollmentImage{img}, func() {}); err == nil {
		t.Fatal("expected server error to abort the check")
	}
}

func TestAPIClientVerifyUploadsMultipart(t *testing.T) {
	var gotContentType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/verify" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		gotContentType = header.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"type": "face_verification", "request_id": "req-9", "success": true,
			"username": "maitri", "confidence": 97.1, "message": "Face verified with 97.1% confidence", "token": "tok",
		})
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL+"/", "admin-token", time.Second)
	res, err := c.Verify(context.Background(), "face.png", []byte("\x89PNG\r\n\x1a\n"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotContentType != "image/png" || gotAuth != "Bearer admin-token" {
		t.Fatalf("unexpected request headers %q %q", gotContentType, gotAuth)
	}
	if !res.Success || res.Username == nil || *res.Username != "maitri" || res.Token != "tok" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestAPIClientLoginFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid username or password"}`))
	}))
	defer srv.Close()

	res, err := newAPIClient(srv.URL, "", time.Second).Login(context.Background(), "maitri", "nope")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Success || res.Message != "Invalid username or password" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestAPIClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "", time.Second).Users(context.Background())
	apiErr, ok := asAPIError(err)
	if !ok || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected apiError 500, got %v", err)
	}
}

func TestPromptPassword(t *testing.T) {
	var prompt bytes.Buffer
	got, err := promptPassword(strings.NewReader("s3cret\r\n"), &prompt)
	if err != nil || got != "s3cret" {
		t.Fatalf("got %q, %v", got, err)
	}
	if prompt.String() != "Password: " {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
	if _, err := promptPassword(strings.NewReader(""), &prompt); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestHealthCommandOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","face_recognition_available":true,"registered_users":2,"enrolled_faces":5}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"health", "--server", srv.URL})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out.String(), "Registered users:  2") || !strings.Contains(out.String(), "available") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
