package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

// Generator produces the raw files of one partition out of parts.
type Generator interface {
	Generate(ctx context.Context, scaleFactor float64, part, parts int) error
}

// Syncer uploads the columnar files under src to dst.
type Syncer interface {
	Sync(ctx context.Context, src, dst string) error
}

// Dbgen runs the TPC-H dbgen binary found in Dir.
type Dbgen struct {
	Dir string
}

func (d Dbgen) Generate(ctx context.Context, scaleFactor float64, part, parts int) error {
	args := []string{
		"./dbgen", "-v", "-f",
		"-s", config.FormatScaleFactor(scaleFactor),
		"-S", strconv.Itoa(part),
		"-C", strconv.Itoa(parts),
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = d.Dir
	return runCmd(cmd)
}

// AwsCLI syncs with the aws command line client.
type AwsCLI struct{}

func (AwsCLI) Sync(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "aws", "s3", "sync", src, dst, "--exclude", "*", "--include", "*.parquet")
	return runCmd(cmd)
}

func runCmd(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v failed: err=%w, out=%v", cmd.Args, err, string(output))
	}
	return nil
}

// Pipeline generates the dataset in NumBatches sequential batches of
// Parallelism concurrent generator runs, converting each batch to partitioned
// parquet before the next one starts.
type Pipeline struct {
	ScratchDir   string
	ScaleFactor  float64
	NumBatches   int
	Parallelism  int
	RowsPerFile  int
	SyncLocation string

	Generator Generator
	Syncer    Syncer
	// GeneratorDir is where the generator leaves its *.tbl* files.
	GeneratorDir string
}

// BaseDir is the directory receiving the converted output.
func (p Pipeline) BaseDir() string {
	return filepath.Join(p.ScratchDir, strconv.Itoa(p.NumBatches))
}

func (p Pipeline) Run(ctx context.Context) error {
	if p.NumBatches < 1 || p.Parallelism < 1 {
		return fmt.Errorf("invalid pipeline: %v batches, parallelism %v", p.NumBatches, p.Parallelism)
	}
	location := strings.TrimSuffix(p.SyncLocation, "/")
	if location != "" && p.Syncer == nil {
		return errors.New("sync location set without a syncer")
	}
	base := p.BaseDir()
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}

	parts := p.NumBatches * p.Parallelism
	for batch := 0; batch < p.NumBatches; batch++ {
		first := batch*p.Parallelism + 1
		logger.Logger.Infof("partitions %v..%v: generating raw files", first, first+p.Parallelism-1)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.Parallelism)
		for part := first; part < first+p.Parallelism; part++ {
			g.Go(func() error {
				if err := p.Generator.Generate(gctx, p.ScaleFactor, part, parts); err != nil {
					return fmt.Errorf("generate partition %v: %w", part, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := moveRaw(p.GeneratorDir, base); err != nil {
			return err
		}
		converter := Converter{Dir: base, RowsPerFile: p.RowsPerFile, Partitioned: true, BatchIdx: batch}
		if err := converter.Convert(ctx); err != nil {
			return err
		}

		if location != "" {
			dst := location + "/scale-" + config.FormatScaleFactor(p.ScaleFactor)
			logger.Logger.Infof("batch %v: syncing to %v", batch, dst)
			if err := p.Syncer.Sync(ctx, p.ScratchDir, dst); err != nil {
				return fmt.Errorf("sync batch %v: %w", batch, err)
			}
			if err := removeColumnar(base); err != nil {
				return err
			}
		}
		if err := removeRaw(base); err != nil {
			return err
		}
	}
	return nil
}

func moveRaw(src, dst string) error {
	files, err := filepath.Glob(filepath.Join(src, "*.tbl*"))
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Rename(file, filepath.Join(dst, filepath.Base(file))); err != nil {
			return err
		}
	}
	return nil
}

func removeRaw(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tbl*"))
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return err
		}
	}
	return nil
}

func removeColumnar(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return err
	}
	for _, table := range tpch.Tables {
		files = append(files, filepath.Join(dir, table))
	}
	for _, file := range files {
		if err := os.RemoveAll(file); err != nil {
			return err
		}
	}
	return nil
}
