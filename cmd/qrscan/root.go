package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/certfetch/internal/archive"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
	"github.com/shehryarbajwa/certfetch/internal/qr"
	"github.com/shehryarbajwa/certfetch/internal/render"
)

func newRootCmd(opener pdfdoc.Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "qrscan",
		Short:         "Inspect certificate PDFs offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newDecodeCmd(opener),
		newInspectCmd(),
		newRenderCmd(opener),
	)
	return root
}

func newDecodeCmd(opener pdfdoc.Opener) *cobra.Command {
	var dpi float64
	cmd := &cobra.Command{
		Use:   "decode <pdf>",
		Short: "Print the QR code text found on page 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x := qr.NewExtractor(opener, qr.Config{DPI: dpi})
			text, found, err := x.Extract(cmd.Context(), qr.FromPath(args[0]))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: no QR code on page 1", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().Float64Var(&dpi, "dpi", qr.DefaultDPI, "Render resolution for detection")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <pdf>",
		Short: "Validate the PDF structure and print its page count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readPDF(args[0])
			if err != nil {
				return err
			}
			info, err := pdfdoc.Inspect(doc)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pages: %d\nsize: %d\n", info.Pages, info.Size)
			return nil
		},
	}
}

func newRenderCmd(opener pdfdoc.Opener) *cobra.Command {
	var (
		out    string
		dpi    float64
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "render <pdf>",
		Short: "Render every page to PNG and pack them into a ZIP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readPDF(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			images, err := render.FromPDF(ctx, opener, doc, dpi)
			if err != nil {
				return err
			}
			zip, err := archive.Pack(images)
			if err != nil {
				return err
			}
			if verify {
				back, err := archive.Unpack(zip)
				if err != nil {
					return err
				}
				if len(back) != len(images) {
					return fmt.Errorf("archive holds %d pages, rendered %d", len(back), len(images))
				}
			}
			if err := os.WriteFile(out, zip, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d pages to %s\n", len(images), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "pages.zip", "Archive path")
	cmd.Flags().Float64Var(&dpi, "dpi", render.DefaultDPI, "Render resolution")
	cmd.Flags().BoolVar(&verify, "verify", false, "Re-read the archive after packing")
	return cmd
}

func readPDF(path string) (pdfdoc.Bytes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pdfdoc.Bytes{}, err
	}
	doc, err := pdfdoc.Verify(data)
	if err != nil {
		return pdfdoc.Bytes{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
