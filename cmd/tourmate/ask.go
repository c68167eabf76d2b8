package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(o *rootOptions) *cobra.Command {
	var (
		image string
		lang  string
	)

	cmd := &cobra.Command{
		Use:   "ask --image <path> <question>",
		Short: "Ask a single question about an image",
		Example: `  tourmate ask --image temple.jpg "What is this building?"
  tourmate ask -i vase.png -l zh "这件文物有什么历史？"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lang != "" {
				o.cfg.Language = lang
			}
			a, err := newApp(o.cfg, "")
			if err != nil {
				return err
			}
			defer a.Close()

			langCode := langOf(a.ctrl)
			if image != "" {
				if _, err := a.stageFile(image); err != nil {
					return fmt.Errorf("%s", describeError(err, langCode))
				}
			}

			res, err := a.ctrl.Submit(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("%s: %w", describeError(err, langCode), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Assistant.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", "", "Image file (JPEG, PNG or WebP)")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Answer language (en, zh)")
	return cmd
}
