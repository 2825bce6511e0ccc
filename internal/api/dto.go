package api

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/loom/internal/logits"
)

type GenerateRequest struct {
	Prompt    PromptValue     `json:"prompt"`
	Sequences *int            `json:"sequences,omitempty"`
	GenLen    *int            `json:"gen_len,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	Seed      *int64          `json:"seed,omitempty"`
	Sampling  *SamplingParams `json:"sampling,omitempty"`
}

// SamplingParams overrides the server's sampling defaults. Absent fields
// keep their default values.
type SamplingParams struct {
	TopP              *float32 `json:"top_p,omitempty"`
	Temperature       *float32 `json:"temperature,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TFS               *float32 `json:"tfs,omitempty"`
	RepetitionPenalty *float32 `json:"repetition_penalty,omitempty"`
	RepetitionSlope   *float32 `json:"repetition_slope,omitempty"`
	RepetitionRange   *int     `json:"repetition_range,omitempty"`
	StopToken         *int     `json:"stop_token,omitempty"`
}

func (p *SamplingParams) apply(cfg logits.Config) logits.Config {
	if p == nil {
		return cfg
	}
	if p.TopP != nil {
		cfg.TopP = *p.TopP
	}
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
	}
	if p.TopK != nil {
		cfg.TopK = *p.TopK
	}
	if p.TFS != nil {
		cfg.TFS = *p.TFS
	}
	if p.RepetitionPenalty != nil {
		cfg.RepetitionPenalty = *p.RepetitionPenalty
	}
	if p.RepetitionSlope != nil {
		cfg.RepetitionSlope = *p.RepetitionSlope
	}
	if p.RepetitionRange != nil {
		cfg.RepetitionRange = *p.RepetitionRange
	}
	if p.StopToken != nil {
		cfg.StopToken = *p.StopToken
	}
	return cfg
}

// PromptValue accepts either a JSON array of token ids or a single id.
type PromptValue []int

func (v *PromptValue) UnmarshalJSON(b []byte) error {
	if v == nil {
		return fmt.Errorf("prompt: nil receiver")
	}
	if len(b) == 0 || string(b) == "null" {
		*v = nil
		return nil
	}
	if b[0] == '[' {
		var ids []int
		if err := json.Unmarshal(b, &ids); err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		*v = ids
		return nil
	}
	var id int
	if err := json.Unmarshal(b, &id); err != nil {
		return fmt.Errorf("prompt: expected a token id or an array of ids")
	}
	*v = PromptValue{id}
	return nil
}

func (v PromptValue) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int(v))
}

type GenerateResponse struct {
	ID         string  `json:"id"`
	Object     string  `json:"object"`
	CreatedAt  int64   `json:"created_at"`
	Mode       string  `json:"mode"`
	Seed       int64   `json:"seed"`
	Sequences  [][]int `json:"sequences"`
	Steps      int     `json:"steps"`
	Halted     bool    `json:"halted"`
	Regenerate bool    `json:"regenerate"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
