package main

import (
	"github.com/MrCodeEU/facecompare/pkg/logging"
	"github.com/MrCodeEU/facecompare/pkg/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the face comparison HTTP server.
POST /compare-face/ accepts multipart/form-data with image1_url or an image1
file and image2_url or an image2 file.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Server.Secret == "insecure-secret-key" {
		logging.Warnf("Using the default server secret; set FACECOMPARE_SECRET")
	}

	rec, err := newRecognizer(cfg)
	if err != nil {
		return err
	}
	defer rec.Close()

	srv := server.NewServer(cfg.Server, newService(cfg, rec))
	logging.Infof("Serving POST /compare-face/ on http://%s", cfg.Addr())
	return srv.Start()
}
