// Package api exposes generation over HTTP. One POST endpoint runs the
// sampling loop against the configured model; everything request-scoped
// (sampler config, stopping policy, RNG stream) is built per call so
// handlers can run concurrently.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/loom/internal/decode"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/logits"
	"github.com/samcharles93/loom/internal/rng"
	"github.com/samcharles93/loom/internal/version"
)

type ServerConfig struct {
	Model      decode.Model
	ContextLen int

	// Pad fills prompt left-padding and unwritten buffer positions.
	Pad int

	// Banned tokens are never sampled, regardless of request parameters.
	Banned []int

	// Defaults seed the sampler config before request overrides. Zero
	// value means the package defaults.
	Defaults logits.Config

	MaxSequences int
	MaxGenLen    int

	Log logger.Logger
}

type Server struct {
	cfg   ServerConfig
	clock func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Defaults == (logits.Config{}) {
		cfg.Defaults = logits.DefaultConfig()
	}
	if cfg.MaxSequences <= 0 {
		cfg.MaxSequences = 8
	}
	if cfg.MaxGenLen <= 0 {
		cfg.MaxGenLen = 512
	}
	if cfg.Log == nil {
		cfg.Log = logger.Default()
	}
	return &Server{cfg: cfg, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.String()})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.cfg.Model == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "model not configured", "", "")
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Prompt) == 0 {
		return writeBadRequest(c, "prompt is required")
	}

	numSeqs := 1
	if req.Sequences != nil {
		numSeqs = *req.Sequences
	}
	if numSeqs < 1 || numSeqs > s.cfg.MaxSequences {
		return writeBadRequest(c, fmt.Sprintf("sequences must be in [1, %d]", s.cfg.MaxSequences))
	}
	genLen := 80
	if req.GenLen != nil {
		genLen = *req.GenLen
	}
	if genLen < 1 || genLen > s.cfg.MaxGenLen {
		return writeBadRequest(c, fmt.Sprintf("gen_len must be in [1, %d]", s.cfg.MaxGenLen))
	}
	mode := req.Mode
	if mode == "" {
		mode = "static"
	}
	if mode != "static" && mode != "dynamic" {
		return writeBadRequest(c, fmt.Sprintf("unknown mode %q", mode))
	}

	samplerCfg := req.Sampling.apply(s.cfg.Defaults)
	if err := samplerCfg.Validate(); err != nil {
		return writeBadRequest(c, err.Error())
	}

	seed := s.clock().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	resp := GenerateResponse{
		ID:        "gen_" + uuid.NewString(),
		Object:    "generation",
		CreatedAt: s.clock().Unix(),
		Mode:      mode,
		Seed:      seed,
	}

	orch := s.orchestrator(samplerCfg)
	ctx := c.Request().Context()
	key := rng.New(seed)

	switch mode {
	case "static":
		seqs, err := orch.Static(ctx, req.Prompt, numSeqs, genLen, samplerCfg, key)
		if err != nil {
			return writeGenerateError(c, err)
		}
		resp.Sequences = seqs
		for _, seq := range seqs {
			if len(seq) > resp.Steps {
				resp.Steps = len(seq)
			}
		}
	case "dynamic":
		res, err := orch.Dynamic(ctx, req.Prompt, numSeqs, genLen, key, nil)
		if err != nil {
			return writeGenerateError(c, err)
		}
		resp.Sequences = res.Sequences
		resp.Steps = res.Steps
		resp.Halted = res.Halted
		resp.Regenerate = res.Regenerate
	}

	s.cfg.Log.Debug("generation served",
		"id", resp.ID,
		"mode", mode,
		"sequences", numSeqs,
		"steps", resp.Steps)
	return c.JSON(http.StatusOK, resp)
}

// orchestrator builds the request-scoped generation stack. The model is
// shared; everything else is per request.
func (s *Server) orchestrator(cfg logits.Config) *decode.Orchestrator {
	ctrl := &decode.Controller{
		Model:  s.cfg.Model,
		Config: decode.FixedConfig(cfg),
		Policy: stopAllPolicy(cfg.StopToken, s.cfg.ContextLen),
		Banned: s.cfg.Banned,
		Pad:    s.cfg.Pad,
	}
	return &decode.Orchestrator{
		Controller: ctrl,
		ContextLen: s.cfg.ContextLen,
		Log:        s.cfg.Log,
	}
}

// stopAllPolicy halts a dynamic run once every sequence has emitted the
// stop token. With no stop token configured, generation runs to the length
// limit.
func stopAllPolicy(stopToken, contextLen int) decode.StoppingPolicy {
	return decode.StoppingPolicyFunc(func(generated [][]int, steps int, excluded any) (any, bool, bool, error) {
		if stopToken < 0 {
			return excluded, false, false, nil
		}
		for _, seq := range generated {
			found := false
			for _, tok := range seq[contextLen : contextLen+steps] {
				if tok == stopToken {
					found = true
					break
				}
			}
			if !found {
				return excluded, false, false, nil
			}
		}
		return excluded, false, true, nil
	})
}

func writeGenerateError(c *echo.Context, err error) error {
	if errors.Is(err, decode.ErrContract) || errors.Is(err, logits.ErrInvalidConfig) {
		return writeBadRequest(c, err.Error())
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, fmt.Errorf("invalid request body: %w", err)
	}
	return v, nil
}
