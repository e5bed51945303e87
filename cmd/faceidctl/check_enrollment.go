package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollmentExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

type enrollmentImage struct {
	Identity string
	Path     string
}

type enrollmentIssue struct {
	Image   enrollmentImage
	Message string
}

var checkEnrollmentCmd = &cobra.Command{
	Use:   "check-enrollment <face-data-dir>",
	Short: "Report enrollment images that do not contain exactly one face",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		images, err := collectEnrollmentImages(args[0])
		if err != nil {
			return err
		}
		if len(images) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No enrollment images found.")
			return nil
		}

		bar := progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("Checking enrollment"),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
		issues, err := checkEnrollment(cmd.Context(), client(), images, func() { _ = bar.Add(1) })
		_ = bar.Finish()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%d images checked, %d need attention\n", len(images), len(issues))
		if len(issues) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tFILE\tPROBLEM")
		for _, is := range issues {
			fmt.Fprintf(w, "%s\t%s\t%s\n", is.Image.Identity, filepath.Base(is.Image.Path), is.Message)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(checkEnrollmentCmd)
}

// collectEnrollmentImages lists <dir>/<identity>/*.{png,jpg,jpeg} sorted by identity then file name.
func collectEnrollmentImages(dir string) ([]enrollmentImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read face data directory: %w", err)
	}

	var images []enrollmentImage
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !enrollmentExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			images = append(images, enrollmentImage{Identity: e.Name(), Path: filepath.Join(dir, e.Name(), f.Name())})
		}
	}
	sort.Slice(images, func(i, j int) bool {
		if images[i].Identity != images[j].Identity {
			return images[i].Identity < images[j].Identity
		}
		return images[i].Path < images[j].Path
	})
	return images, nil
}

type detector interface {
	Detect(ctx context.Context, filename string, data []byte) (*detectResponse, error)
}

// checkEnrollment runs readiness detection over every image. Request
// failures abort; images that are not ready become issues.
func checkEnrollment(ctx context.Context, d detector, images []enrollmentImage, step func()) ([]enrollmentIssue, error) {
	var issues []enrollmentIssue
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(img.Path)
		if err != nil {
			issues = append(issues, enrollmentIssue{Image: img, Message: err.Error()})
			step()
			continue
		}
		res, err := d.Detect(ctx, img.Path, data)
		if err != nil {
			if apiErr, ok := asAPIError(err); ok && apiErr.Status < 500 {
				issues = append(issues, enrollmentIssue{Image: img, Message: res.errorMessage(apiErr)})
				step()
				continue
			}
			return nil, err
		}
		if !res.ReadyForVerification {
			issues = append(issues, enrollmentIssue{Image: img, Message: res.Message})
		}
		step()
	}
	return issues, nil
}

func (r *detectResponse) errorMessage(fallback error) string {
	if r != nil && r.Error != "" {
		return r.Error
	}
	return fallback.Error()
}
