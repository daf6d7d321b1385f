package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/shared/metrics"
	"signalcraft-client/internal/shared/telemetry"
)

type uploadResponse struct {
	TaskID string `json:"task_id"`
}

// Upload streams a recording to POST /api/mobile/upload and returns the
// server-assigned task id. Failures are returned as *analysis.UploadError and
// are never retried here.
func (c *Client) Upload(ctx context.Context, req analysis.UploadRequest, body io.Reader) (string, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", &analysis.UploadError{Err: errors.New("device id is required")}
	}
	if body == nil {
		return "", &analysis.UploadError{Err: errors.New("recording body is required")}
	}
	req = withUploadDefaults(req)
	metrics.IncUpload()
	if req.SizeBytes > analysis.LargeArtifactBytes {
		metrics.IncLargeArtifact()
		telemetry.Warn("upload.large_artifact", map[string]any{
			"device_id":  req.DeviceID,
			"size_bytes": req.SizeBytes,
			"limit":      analysis.LargeArtifactBytes,
		})
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, req, body))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "mobile", "upload"), pr)
	if err != nil {
		metrics.IncUploadFailure()
		return "", &analysis.UploadError{Err: err}
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	var parsed uploadResponse
	if err := c.do(c.upload, httpReq, &parsed); err != nil {
		metrics.IncUploadFailure()
		return "", &analysis.UploadError{StatusCode: statusCodeOf(err), Err: err}
	}
	if strings.TrimSpace(parsed.TaskID) == "" {
		metrics.IncUploadFailure()
		return "", &analysis.UploadError{StatusCode: http.StatusOK, Err: errors.New("response missing task_id")}
	}

	telemetry.Info("upload.accepted", map[string]any{
		"device_id":        req.DeviceID,
		"task_id":          parsed.TaskID,
		"model_preference": req.ModelPreference,
		"size_bytes":       req.SizeBytes,
	})
	return parsed.TaskID, nil
}

func withUploadDefaults(req analysis.UploadRequest) analysis.UploadRequest {
	if req.AudioFormat == "" {
		req.AudioFormat = "m4a"
	}
	if req.SampleRate <= 0 {
		req.SampleRate = 44100
	}
	if req.Channels <= 0 {
		req.Channels = 2
	}
	if req.ModelPreference == "" {
		req.ModelPreference = analysis.ModelHybrid
	}
	if req.FileName == "" {
		req.FileName = "recording." + req.AudioFormat
	}
	return req
}

func writeUploadForm(mw *multipart.Writer, req analysis.UploadRequest, body io.Reader) error {
	fields := [][2]string{
		{"device_id", req.DeviceID},
		{"audio_format", req.AudioFormat},
		{"sample_rate", strconv.Itoa(req.SampleRate)},
		{"channels", strconv.Itoa(req.Channels)},
		{"model_preference", req.ModelPreference},
	}
	if req.TargetModelID != "" {
		fields = append(fields, [2]string{"target_model_id", req.TargetModelID})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(req.FileName)))
	h.Set("Content-Type", audioMIME(req.AudioFormat))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("copy recording: %w", err)
	}
	return mw.Close()
}

func audioMIME(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	case "m4a", "aac", "mp4":
		return "audio/m4a"
	default:
		return "application/octet-stream"
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
