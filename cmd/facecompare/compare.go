package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MrCodeEU/facecompare/pkg/compare"
	"github.com/MrCodeEU/facecompare/pkg/server"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <image1> <image2>",
	Short: "Compare the faces in two images",
	Long: `Compare the first face found in each image and print the result as JSON.
Each argument is a local file path or an http(s) URL.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().Bool("parallel", false, "Process both images concurrently")
}

func runCompare(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("parallel") {
		cfg.Pipeline.Parallel, _ = cmd.Flags().GetBool("parallel")
	}

	image1, err := cliInput(args[0])
	if err != nil {
		return err
	}
	image2, err := cliInput(args[1])
	if err != nil {
		return err
	}

	rec, err := newRecognizer(cfg)
	if err != nil {
		return err
	}
	defer rec.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newService(cfg, rec).Compare(ctx, compare.Request{Image1: image1, Image2: image2})

	data, err := json.MarshalIndent(server.NewResponse(out), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if !out.Success() {
		return fmt.Errorf("comparison failed: %s", out.Failure.Message())
	}
	return nil
}

// cliInput treats http(s) arguments as URLs and everything else as a file.
func cliInput(arg string) (compare.Input, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return compare.Input{URL: arg}, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return compare.Input{}, fmt.Errorf("failed to read image: %w", err)
	}
	return compare.Input{File: &compare.Upload{Filename: filepath.Base(arg), Data: data}}, nil
}
