package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hi-zp/recording/internal/core/domain"
	apperrors "github.com/hi-zp/recording/pkg/errors"
	"github.com/hi-zp/recording/pkg/retry"
	"github.com/hi-zp/recording/pkg/utils"

	"go.uber.org/zap"
)

// Uploader posts finalized recordings to the relay's upload endpoint with
// exponential backoff. Signaling connects are deliberately never retried;
// the upload path is.
type Uploader struct {
	url      string
	client   *http.Client
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func NewUploader(url string, retryCfg retry.Config, logger *zap.SugaredLogger) *Uploader {
	return &Uploader{
		url:      url,
		client:   &http.Client{Timeout: 30 * time.Second},
		retryCfg: retryCfg,
		logger:   logger,
	}
}

type uploadResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Upload sends the recording as the multipart "file" field and returns the
// URL the server stored it under.
func (u *Uploader) Upload(ctx context.Context, rec *domain.Recording) (string, error) {
	if rec == nil || len(rec.Data) == 0 {
		return "", apperrors.NewInvalidInputError("nothing to upload")
	}
	name := utils.ArtifactName(rec.CreatedAt, rec.Ext())

	return retry.RetryWithResult(ctx, u.retryCfg, func() (string, error) {
		return u.post(ctx, name, rec.Data)
	})
}

func (u *Uploader) post(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to build multipart body")
	}
	if _, err := part.Write(data); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to write multipart body")
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to finish multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("malformed upload response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("upload rejected with status %d", resp.StatusCode)
		}
		return "", apperrors.NewAppError(apperrors.ErrCodeInternal, msg)
	}

	u.logger.Infow("recording uploaded", "name", name, "url", parsed.URL)
	return parsed.URL, nil
}
