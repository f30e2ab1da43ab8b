package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-convert-tracker/internal/formats"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the file formats the service converts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sessionFrom(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		list, err := s.tracker.SupportedFormats(ctx)
		if err != nil {
			s.logger.Warn("could not query the service, showing the built-in list", "err", err)
			list = formats.SupportedExtensions()
			fmt.Println(color.YellowString("(built-in list, service unreachable)"))
		}
		fmt.Println(strings.Join(list, " "))
		fmt.Printf("Maximum upload size: %dMB\n", formats.MaxUploadBytes>>20)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}
