package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/schemerge/internal/config"
	"github.com/MarcoPoloResearchLab/schemerge/internal/document"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newBuildCommand() *cobra.Command {
	var bundleDir, outPath string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Render a schematic bundle into a self-contained HTML document",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			bundle, err := loadBundle(bundleDir, appConfig.MergeMode)
			if err != nil {
				return err
			}
			return writeDocument(outPath, bundle)
		},
	}
	cmd.Flags().StringVar(&bundleDir, "bundle", "", "Directory holding index.json, library.svg and pages/")
	cmd.Flags().StringVar(&outPath, "out", "", "Output HTML file")
	_ = cmd.MarkFlagRequired("bundle")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// loadBundle reads dir and applies mode when the bundle carries none.
func loadBundle(dir, mode string) (document.Bundle, error) {
	bundle, err := document.LoadBundle(dir)
	if err != nil {
		return document.Bundle{}, err
	}
	if bundle.Mode == 0 {
		bundle.Mode = modeFor(mode)
	}
	return bundle, nil
}

func writeDocument(path string, bundle document.Bundle) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := bufio.NewWriter(file)
	if err := document.Render(writer, bundle, document.RenderOptions{}); err != nil {
		file.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
