package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/decode"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/logits"
	"github.com/samcharles93/loom/internal/rng"
	"github.com/samcharles93/loom/internal/toy"
)

func runCmd() *cli.Command {
	var (
		prompt        string
		mode          string
		steps         int64
		sequences     int64
		temp          float64
		topK          int64
		topP          float64
		tfs           float64
		repeatPenalty float64
		repeatSlope   float64
		repeatRange   int64
		stopToken     int64
		seed          int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt token ids, space or comma separated",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "generation mode (static, dynamic)",
			Value:       "static",
			Destination: &mode,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of tokens to generate",
			Value:       16,
			Destination: &steps,
		},
		&cli.Int64Flag{
			Name:        "sequences",
			Aliases:     []string{"s"},
			Usage:       "number of sequences to generate in parallel",
			Value:       1,
			Destination: &sequences,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature",
			Value:       0.5,
			Destination: &temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k"},
			Usage:       "top-k sampling parameter (0 = disabled)",
			Value:       0,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "top-p sampling parameter (1.0 = disabled)",
			Value:       0.9,
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "tfs",
			Usage:       "tail-free sampling threshold (1.0 = disabled)",
			Value:       1.0,
			Destination: &tfs,
		},
		&cli.Float64Flag{
			Name:        "repetition-penalty",
			Aliases:     []string{"repetition_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1.0,
			Destination: &repeatPenalty,
		},
		&cli.Float64Flag{
			Name:        "repetition-slope",
			Aliases:     []string{"repetition_slope"},
			Usage:       "repetition penalty slope (0 = disabled)",
			Value:       0,
			Destination: &repeatSlope,
		},
		&cli.Int64Flag{
			Name:        "repetition-range",
			Aliases:     []string{"repetition_range"},
			Usage:       "repetition penalty window (0 = whole buffer)",
			Value:       0,
			Destination: &repeatRange,
		},
		&cli.Int64Flag{
			Name:        "stop-token",
			Aliases:     []string{"stop_token"},
			Usage:       "stop token id (-1 = disabled)",
			Value:       -1,
			Destination: &stopToken,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (default -1 = time based)",
			Value:       -1,
			Destination: &seed,
		},
	}
	flags = append(flags, commonModelFlags()...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate token sequences from a prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fileCfg := LoadConfig()
			applyRunConfig(cmd, fileCfg,
				&temp, &topP, &tfs, &repeatPenalty, &repeatSlope,
				&topK, &repeatRange, &stopToken, &steps, &seed, &sequences)

			log := newLogger()
			ctx = logger.WithContext(ctx, log)

			ids, err := parsePrompt(prompt)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("a prompt is required (-p \"1 2 3\")")
			}

			cfg := logits.Config{
				TopP:              float32(topP),
				Temperature:       float32(temp),
				TopK:              int(topK),
				TFS:               float32(tfs),
				RepetitionPenalty: float32(repeatPenalty),
				RepetitionSlope:   float32(repeatSlope),
				RepetitionRange:   int(repeatRange),
				StopToken:         int(stopToken),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if seed < 0 {
				seed = time.Now().UnixNano()
			}

			model := toy.New(int(vocabSize), int(hiddenSize), modelSeed)
			orch := &decode.Orchestrator{
				Controller: &decode.Controller{
					Model:  model,
					Config: decode.FixedConfig(cfg),
					Policy: stopAllPolicy(cfg.StopToken, int(contextLen)),
				},
				ContextLen: int(contextLen),
				Log:        log,
			}
			key := rng.New(seed)

			log.Info("generating",
				"mode", mode,
				"sequences", sequences,
				"steps", steps,
				"seed", seed)
			start := time.Now()

			switch mode {
			case "static":
				out, err := orch.Static(ctx, ids, int(sequences), int(steps), cfg, key)
				if err != nil {
					return err
				}
				printSequences(out)
			case "dynamic":
				res, err := orch.Dynamic(ctx, ids, int(sequences), int(steps), key, nil)
				if err != nil {
					return err
				}
				printSequences(res.Sequences)
				log.Info("dynamic run finished",
					"steps", res.Steps,
					"halted", res.Halted,
					"regenerate", res.Regenerate)
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}

			log.Info("generation complete", "duration", time.Since(start))
			return nil
		},
	}
}

// stopAllPolicy halts a dynamic run once every sequence has emitted the
// stop token.
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

func parsePrompt(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("prompt: %q is not a token id", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printSequences(seqs [][]int) {
	for i, seq := range seqs {
		var b strings.Builder
		for j, tok := range seq {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.Itoa(tok))
		}
		fmt.Printf("seq %d: %s\n", i, b.String())
	}
}
