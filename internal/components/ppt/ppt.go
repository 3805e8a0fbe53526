// Package ppt generates a slide deck from a paper through the AppBuilder
// asynchronous create, poll, download endpoints.
package ppt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kiranshivaraju/appbuilder/internal/components"
)

// Name is the component and job family name.
const Name = "ppt_generation_from_paper"

const (
	CreatePath   = "/ppt/text2ppt/apps/ppt-create-thesis"
	StatusPath   = "/ppt/text2ppt/apps/ppt-result"
	DownloadPath = "/ppt/text2ppt/apps/ppt-download"
)

// DefaultAuthor replaces a blank presenter or advisor.
const DefaultAuthor = "百度千帆AppBuilder"

// Styles lists the accepted deck styles.
var Styles = []string{"科技", "商务", "小清新", "可爱卡通", "中国风", "极简", "党政"}

var ErrInvalidInput = errors.New("invalid ppt input")

// Input is the body of the create request.
type Input struct {
	FileKey string `json:"file_key"`
	Style   string `json:"style,omitempty"`
	Pleader string `json:"pleader"`
	Advisor string `json:"advisor"`
}

// Validate checks in and fills the author defaults.
func (in Input) Validate() (Input, error) {
	in.FileKey = strings.TrimSpace(in.FileKey)
	if in.FileKey == "" {
		return in, fmt.Errorf("%w: file_key is required", ErrInvalidInput)
	}
	in.Style = strings.TrimSpace(in.Style)
	if in.Style != "" && !slices.Contains(Styles, in.Style) {
		return in, fmt.Errorf("%w: unsupported style %q", ErrInvalidInput, in.Style)
	}
	if strings.TrimSpace(in.Pleader) == "" {
		in.Pleader = DefaultAuthor
	}
	if strings.TrimSpace(in.Advisor) == "" {
		in.Advisor = DefaultAuthor
	}
	return in, nil
}

// Result is the outcome of a completed generation.
type Result struct {
	JobID       string `json:"job_id"`
	DownloadURL string `json:"download_url"`
}

// Manifest returns the function-call description of the component.
func Manifest() components.Manifest {
	return components.Manifest{
		Name:        Name,
		Description: "根据论文生成PPT。",
		Parameters: components.Parameters{
			Type: "object",
			Properties: map[string]components.Property{
				"style": {
					Type: "string",
					Description: "用户指定的PPT风格，如果用户query未明确说明想要的PPT风格，那么你不需要抽取该参数。" +
						"可选风格为：科技、商务、小清新、可爱卡通、中国风、极简、党政。",
					Enum: Styles,
				},
			},
			Required: []string{},
		},
	}
}

// remoteID accepts a job id encoded either as a JSON string or a number.
type remoteID string

func (id *remoteID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("job id is neither string nor number: %s", b)
	}
	*id = remoteID(n.String())
	return nil
}
