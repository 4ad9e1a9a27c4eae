package main

import (
	"fmt"
	"os"

	"github.com/MrCodeEU/facecompare/pkg/acceleration"
	"github.com/MrCodeEU/facecompare/pkg/compare"
	"github.com/MrCodeEU/facecompare/pkg/config"
	"github.com/MrCodeEU/facecompare/pkg/imaging"
	"github.com/MrCodeEU/facecompare/pkg/logging"
	"github.com/MrCodeEU/facecompare/pkg/recognition"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "facecompare",
	Short: "Compare two face photos",
	Long: `facecompare decides whether two photos show the same person.
It locates the first face in each image, computes a 128-dimensional dlib
embedding for it and compares the embeddings by Euclidean distance.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func loadConfig() error {
	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyEnv()
	cfg.ExpandPaths()
	if debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// newRecognizer loads the dlib models with the configured detector.
func newRecognizer(cfg *config.Config) (*recognition.DlibRecognizer, error) {
	requested, err := acceleration.ParseMode(cfg.Recognition.Detector)
	if err != nil {
		return nil, err
	}
	sel := acceleration.Select(requested, cfg.Recognition.ModelPath)
	logging.Infof("Face detector: %s (%s)", sel.Mode, sel.Reason)

	rec := recognition.NewRecognizer()
	rec.SetMode(sel.Mode)
	rec.SetWorkers(cfg.Recognition.Workers)
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'facecompare download-models')", err)
	}
	return rec, nil
}

func newService(cfg *config.Config, rec *recognition.DlibRecognizer) *compare.Service {
	resolver := imaging.NewResolver(cfg.Imaging.FetchTimeout, cfg.Imaging.MaxFetchBytes)
	resolver.SetMaxPixels(cfg.Imaging.MaxPixels)
	return compare.NewService(resolver, rec, rec, compare.Options{
		MaxWidth:     cfg.Imaging.MaxWidth,
		StageTimeout: cfg.Pipeline.StageTimeout,
		Parallel:     cfg.Pipeline.Parallel,
		Secret:       cfg.Server.Secret,
	})
}
