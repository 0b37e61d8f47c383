package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/eventshot/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the face detection models and whether they are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Models directory: %s\n\n", models.GetModelsDir(cfg.ModelsDir))

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tINPUT\tSTATUS\tPATH")
		for _, m := range models.ListAvailableModels() {
			path := models.ResolveModelPath(cfg.ModelsDir, m.Filename)
			status := "installed"
			if err := models.ValidateModelExists(path); err != nil {
				status = "missing"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%dx%d\t%s\t%s\n", m.Name, m.InputWidth, m.InputHeight, status, path)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
