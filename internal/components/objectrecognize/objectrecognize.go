// Package objectrecognize labels the objects and scenes in an image through
// the synchronous AppBuilder cloud hub classifier.
package objectrecognize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/kiranshivaraju/appbuilder/internal/components"
)

const (
	Name = "object_recognition"
	Path = "/v1/bce/aip/image-classify/v2/advanced_general"

	DefaultScoreThreshold = 0.5
)

var (
	ErrInvalidInput = errors.New("invalid recognition input")
	ErrService      = errors.New("recognition service error")
	ErrDecode       = errors.New("recognition response malformed")
)

// ServiceError is an error_code/error_msg pair returned inside a 200 body.
type ServiceError struct {
	RequestID string
	Code      string
	Message   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("requestID=%s: service error %s: %s", e.RequestID, e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return ErrService }

// Request carries exactly one of a raw image or an image URL.
type Request struct {
	Image []byte
	URL   string
}

func (r Request) Validate() error {
	switch {
	case len(r.Image) == 0 && r.URL == "":
		return fmt.Errorf("%w: one of image or url must be set", ErrInvalidInput)
	case len(r.Image) > 0 && r.URL != "":
		return fmt.Errorf("%w: image and url are mutually exclusive", ErrInvalidInput)
	}
	return nil
}

func (r Request) form() url.Values {
	v := url.Values{}
	if len(r.Image) > 0 {
		v.Set("image", base64.StdEncoding.EncodeToString(r.Image))
	}
	if r.URL != "" {
		v.Set("url", r.URL)
	}
	return v
}

// Item is one recognized label.
type Item struct {
	Keyword string  `json:"keyword"`
	Score   float64 `json:"score"`
	Root    string  `json:"root"`
}

type Response struct {
	RequestID string      `json:"request_id"`
	LogID     json.Number `json:"log_id"`
	ResultNum int         `json:"result_num"`
	Result    []Item      `json:"result"`
}

// Recognizer calls the classifier.
type Recognizer struct {
	transport appbuilder.Transport
	logger    *slog.Logger
}

func New(transport appbuilder.Transport, logger *slog.Logger) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{transport: transport, logger: logger.With("component", Name)}
}

// Recognize classifies the image in req.
func (r *Recognizer) Recognize(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := r.transport.PostForm(ctx, appbuilder.CloudHubPrefix, Path, req.form())
	if err != nil {
		r.logger.Error("recognition request failed", "error", err)
		return nil, err
	}

	var body struct {
		Response
		ErrorCode json.RawMessage `json:"error_code"`
		ErrorMsg  *string         `json:"error_msg"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: requestID=%s: %v", ErrDecode, resp.RequestID, err)
	}
	if len(body.ErrorCode) > 0 || body.ErrorMsg != nil {
		svcErr := &ServiceError{RequestID: resp.RequestID, Code: string(body.ErrorCode)}
		if body.ErrorMsg != nil {
			svcErr.Message = *body.ErrorMsg
		}
		r.logger.Error("recognition service error", "request_id", resp.RequestID,
			"error_code", svcErr.Code, "error_msg", svcErr.Message)
		return nil, svcErr
	}

	out := body.Response
	out.RequestID = resp.RequestID
	return &out, nil
}

// ToolResult is the labelled form handed back to a tool-calling agent.
type ToolResult struct {
	Keyword string  `json:"物体或场景名称"`
	Score   float64 `json:"置信度"`
	Root    string  `json:"所属类别"`
}

// ToolResults drops items scoring below threshold. The first item is always
// kept.
func ToolResults(items []Item, threshold float64) []ToolResult {
	results := make([]ToolResult, 0, len(items))
	for _, it := range items {
		if it.Score < threshold && len(results) > 0 {
			continue
		}
		results = append(results, ToolResult{Keyword: it.Keyword, Score: it.Score, Root: it.Root})
	}
	return results
}

// ResolveURL picks the image URL for a tool call: imgURL when set, otherwise the
// uploaded file whose base name matches imgName.
func ResolveURL(imgURL, imgName string, fileURLs map[string]string) (string, error) {
	if imgURL != "" {
		return imgURL, nil
	}
	if imgName == "" {
		return "", fmt.Errorf("%w: file name is not set", ErrInvalidInput)
	}
	name := path.Base(imgName)
	u, ok := fileURLs[name]
	if !ok || u == "" {
		return "", fmt.Errorf("%w: file %s url does not exist", ErrInvalidInput, name)
	}
	return u, nil
}

// Manifest returns the function-call description of the component.
func Manifest() components.Manifest {
	return components.Manifest{
		Name:        Name,
		Description: "提供通用物体及场景识别能力，即对于输入的一张图片，输出图片中的多个物体及场景标签。",
		Parameters: components.Parameters{
			Type: "object",
			Properties: map[string]components.Property{
				"img_url":  {Type: "string", Description: "待识别图片的url,根据该url能够获取图片"},
				"img_name": {Type: "string", Description: "待识别图片的文件名,用于生成图片url"},
			},
			Required: []string{},
			AnyOf: []components.Requirement{
				{Required: []string{"img_url"}},
				{Required: []string{"img_name"}},
			},
		},
	}
}
