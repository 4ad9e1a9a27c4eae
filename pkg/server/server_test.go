package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/MrCodeEU/facecompare/pkg/compare"
	"github.com/MrCodeEU/facecompare/pkg/config"
	"github.com/MrCodeEU/facecompare/pkg/imaging"
	"github.com/MrCodeEU/facecompare/pkg/logging"
	"github.com/MrCodeEU/facecompare/pkg/recognition"
	"github.com/google/uuid"
)

const facelessWidth = 33

// widthRecognizer finds one face in every image except those facelessWidth
// wide and derives the embedding from the image width.
type widthRecognizer struct{}

func (widthRecognizer) Locate(ctx context.Context, img *imaging.Raster) ([]recognition.Region, error) {
	if img.Width() == facelessWidth {
		return nil, nil
	}
	return []recognition.Region{{Top: 0, Left: 0, Right: img.Width(), Bottom: img.Height()}}, nil
}

func (widthRecognizer) Extract(ctx context.Context, img *imaging.Raster, region recognition.Region) (recognition.Embedding, error) {
	var e recognition.Embedding
	e[0] = float32(img.Width()) / 20
	return e, nil
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), 77, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		AllowedHosts:    []string{"*"},
		MaxMemory:       1 << 20,
		ShutdownTimeout: 2 * time.Second,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	resolver := imaging.NewResolver(time.Second, 1<<20)
	svc := compare.NewService(resolver, widthRecognizer{}, widthRecognizer{}, compare.Options{Secret: "test"})
	return NewServer(testServerConfig(), svc)
}

func buildMultipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".png")
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func postCompare(t *testing.T, s *Server, fields map[string]string, files map[string][]byte) map[string]any {
	t.Helper()
	body, contentType := buildMultipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/compare-face/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody(t, rec.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.NewDecoder(r).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return got
}

func TestCompareFace_NotMultipart(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/compare-face/", strings.NewReader(`{"image1_url":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := map[string]any{"success": false, "message": "Use multipart/form-data with images."}
	if got := decodeBody(t, rec.Body); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("expected a request id header, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestCompareFace_MultipartWithoutBoundary(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/compare-face/", strings.NewReader("image1_url=x"))
	req.Header.Set("Content-Type", "multipart/form-data")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody(t, rec.Body)
	if got["success"] != false || got["message"] != "error_processing_request" {
		t.Errorf("unexpected response %v", got)
	}
	if got["error_type"] != "*http.ProtocolError" {
		t.Errorf("expected *http.ProtocolError, got %v", got["error_type"])
	}
}

func TestServer_DebugRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logging.Logger.SetOutput(&buf)
	t.Cleanup(func() { logging.Logger.SetOutput(os.Stderr) })

	resolver := imaging.NewResolver(time.Second, 1<<20)
	svc := compare.NewService(resolver, widthRecognizer{}, widthRecognizer{}, compare.Options{})

	quiet := NewServer(testServerConfig(), svc)
	cfg := testServerConfig()
	cfg.Debug = true
	debug := NewServer(cfg, svc)

	if got, want := len(debug.Router().Middlewares()), len(quiet.Router().Middlewares())+1; got != want {
		t.Errorf("expected %d middlewares in debug mode, got %d", want, got)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("User-Agent", "facecompare-test")
	quiet.Router().ServeHTTP(httptest.NewRecorder(), req)
	if strings.Contains(buf.String(), "Request received") {
		t.Error("request details logged without debug")
	}

	debug.Router().ServeHTTP(httptest.NewRecorder(), req)
	if !strings.Contains(buf.String(), "Request received") || !strings.Contains(buf.String(), "facecompare-test") {
		t.Errorf("expected request details in debug mode, got %s", buf.String())
	}
}

func TestCompareFace_MissingImage1(t *testing.T) {
	s := newTestServer(t)
	got := postCompare(t, s, nil, map[string][]byte{"image2": pngBytes(t, 40, 30)})

	want := map[string]any{"success": false, "message": "Provide image1_url or upload image1 file."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCompareFace_SamePhoto(t *testing.T) {
	s := newTestServer(t)
	photo := pngBytes(t, 40, 30)
	got := postCompare(t, s, nil, map[string][]byte{"image1": photo, "image2": photo})

	want := map[string]any{
		"success":   true,
		"match":     true,
		"distance":  0.0,
		"threshold": 0.6,
		"message":   "Faces match",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCompareFace_DifferentFaces(t *testing.T) {
	s := newTestServer(t)
	got := postCompare(t, s, nil, map[string][]byte{
		"image1": pngBytes(t, 40, 30),
		"image2": pngBytes(t, 80, 30),
	})

	if got["success"] != true || got["match"] != false {
		t.Fatalf("unexpected response %v", got)
	}
	if d, _ := got["distance"].(float64); d <= 0.6 {
		t.Errorf("expected distance above 0.6, got %v", got["distance"])
	}
	if got["threshold"] != 0.6 {
		t.Errorf("expected threshold 0.6, got %v", got["threshold"])
	}
	if got["message"] != "Faces do not match" {
		t.Errorf("unexpected message %v", got["message"])
	}
}

func TestCompareFace_NoFace(t *testing.T) {
	s := newTestServer(t)
	got := postCompare(t, s, nil, map[string][]byte{
		"image1": pngBytes(t, facelessWidth, 30),
		"image2": pngBytes(t, 40, 30),
	})

	want := map[string]any{"success": false, "message": "No face found in image1."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCompareFace_BadUpload(t *testing.T) {
	s := newTestServer(t)
	got := postCompare(t, s, nil, map[string][]byte{
		"image1": pngBytes(t, 40, 30),
		"image2": []byte("definitely not an image"),
	})

	if got["message"] != "Failed to load image2 from uploaded file." {
		t.Errorf("unexpected message %v", got["message"])
	}
	if got["error"] == nil || got["error"] == "" {
		t.Error("expected error detail")
	}
	if _, ok := got["error_type"]; ok {
		t.Error("decode failures carry no error_type")
	}
}

func TestCompareFace_URLSource(t *testing.T) {
	photo := pngBytes(t, 40, 30)
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/face.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(photo)
	}))
	defer images.Close()

	s := newTestServer(t)

	got := postCompare(t, s, map[string]string{"image1_url": images.URL + "/face.png"}, map[string][]byte{"image2": photo})
	if got["success"] != true || got["match"] != true {
		t.Errorf("unexpected response %v", got)
	}

	got = postCompare(t, s, map[string]string{"image1_url": images.URL + "/missing.png"}, map[string][]byte{"image2": photo})
	if got["message"] != "Failed to load image1 from URL." {
		t.Errorf("unexpected message %v", got["message"])
	}
	if detail, _ := got["error"].(string); !strings.Contains(detail, "404") {
		t.Errorf("expected status in error detail, got %q", detail)
	}
}

func TestCompareFace_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/compare-face/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec.Body); got["status"] != "ok" {
		t.Errorf("unexpected body %v", got)
	}
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	s := newTestServer(t)
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != id {
		t.Errorf("expected %s, got %s", id, rec.Header().Get(RequestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) == "not-a-uuid" {
		t.Error("malformed request id should be replaced")
	}
}

func TestAllowedHosts(t *testing.T) {
	cfg := testServerConfig()
	cfg.AllowedHosts = []string{"faces.example.com"}
	s := NewServer(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "evil.test"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "faces.example.com:8000"
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHostAllowed(t *testing.T) {
	tests := []struct {
		patterns []string
		host     string
		want     bool
	}{
		{[]string{"*"}, "anything:1234", true},
		{[]string{"example.com"}, "example.com", true},
		{[]string{"example.com"}, "EXAMPLE.com:80", true},
		{[]string{"example.com"}, "api.example.com", false},
		{[]string{".example.com"}, "api.example.com", true},
		{[]string{".example.com"}, "example.com", true},
		{[]string{".example.com"}, "badexample.com", false},
		{nil, "example.com", false},
	}

	for _, tt := range tests {
		if got := hostAllowed(tt.patterns, tt.host); got != tt.want {
			t.Errorf("hostAllowed(%v, %q) = %v, want %v", tt.patterns, tt.host, got, tt.want)
		}
	}
}

func TestNewResponse_RoundsDistance(t *testing.T) {
	out := compare.Outcome{
		Stage:  compare.StageDone,
		Result: &recognition.MatchResult{Distance: 0.123456, Threshold: 0.6, IsMatch: true},
	}
	resp, ok := NewResponse(out).(compareResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", NewResponse(out))
	}
	if resp.Distance != 0.1235 {
		t.Errorf("expected 0.1235, got %v", resp.Distance)
	}
}

func TestNewResponse_InternalError(t *testing.T) {
	f := compare.NewInternalError(context.DeadlineExceeded)
	resp, ok := NewResponse(compare.Failed(f)).(failureResponse)
	if !ok {
		t.Fatal("expected failure response")
	}
	if resp.Message != "error_processing_request" || resp.Error == "" || resp.ErrorType == "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

// blockingComparer holds every comparison until released.
type blockingComparer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingComparer) Compare(ctx context.Context, req compare.Request) compare.Outcome {
	select {
	case <-b.started:
	default:
		close(b.started)
	}
	<-b.release
	return compare.Failed(compare.NewBadContentType())
}

func TestServerGracefulShutdown(t *testing.T) {
	comparer := &blockingComparer{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-comparer.release:
		default:
			close(comparer.release)
		}
	}()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	s := NewServer(testServerConfig(), comparer)

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	body, contentType := buildMultipartBody(t, map[string]string{"image1_url": "http://x", "image2_url": "http://y"}, nil)
	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/compare-face/", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-comparer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(comparer.release)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
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
