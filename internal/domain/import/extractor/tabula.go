package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command. Tests replace it with a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		r.logger.Debug("exec ok",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// TabulaEngine extracts ruled tables with the tabula-java command line tool.
type TabulaEngine struct {
	javaBin string
	jarPath string
	runner  Runner
}

// NewTabulaEngine creates an engine running `java -jar <jarPath>`.
func NewTabulaEngine(javaBin, jarPath string, logger *slog.Logger) *TabulaEngine {
	if javaBin == "" {
		javaBin = "java"
	}
	return &TabulaEngine{
		javaBin: javaBin,
		jarPath: jarPath,
		runner:  execRunner{logger: logger},
	}
}

// WithRunner swaps the command runner.
func (e *TabulaEngine) WithRunner(r Runner) *TabulaEngine {
	e.runner = r
	return e
}

type tabulaCell struct {
	Text string `json:"text"`
}

type tabulaTable struct {
	PageNumber int            `json:"page_number"`
	Data       [][]tabulaCell `json:"data"`
}

// ExtractTables runs tabula in lattice mode over every page.
func (e *TabulaEngine) ExtractTables(ctx context.Context, pdfPath string) ([]Table, error) {
	args := []string{
		"-jar", e.jarPath,
		"--lattice",
		"--pages", "all",
		"--format", "JSON",
		pdfPath,
	}

	stdout, stderr, err := e.runner.Run(ctx, e.javaBin, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run table engine on %s: %w (%s)", pdfPath, err, truncate(string(stderr), 512))
	}

	return decodeTabulaJSON(stdout)
}

func decodeTabulaJSON(data []byte) ([]Table, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []tabulaTable
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode table engine output: %w", err)
	}

	tables := make([]Table, 0, len(raw))
	for _, t := range raw {
		rows := make([][]string, 0, len(t.Data))
		for _, r := range t.Data {
			cells := make([]string, len(r))
			for i, c := range r {
				cells[i] = c.Text
			}
			rows = append(rows, cells)
		}
		tables = append(tables, Table{Page: t.PageNumber, Rows: rows})
	}
	return tables, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
