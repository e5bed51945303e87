package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var loginPassword string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := client().Health(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Status:            %s\n", h.Status)
		fmt.Fprintf(out, "Face model:        %s\n", availability(h.FaceRecognitionAvailable))
		fmt.Fprintf(out, "Registered users:  %d\n", h.RegisteredUsers)
		fmt.Fprintf(out, "Enrolled faces:    %d\n", h.EnrolledFaces)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users and whether face data is enrolled",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := client().Users(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No users registered.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tFACE DATA")
		for _, u := range users {
			status := "missing"
			if u.HasFaceData {
				status = "enrolled"
			}
			fmt.Fprintf(w, "%s\t%s\n", u.Username, status)
		}
		return w.Flush()
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in with a password and print the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			var err error
			if password, err = promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
				return err
			}
		}
		res, err := client().Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Message)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		fmt.Fprintln(cmd.OutOrStdout(), res.Token)
		return nil
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Check whether an image is ready for verification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		res, err := client().Detect(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (ready: %t)\n", res.Message, res.ReadyForVerification)
		for _, b := range res.BoundingBoxes {
			fmt.Fprintf(out, "  face at x=%d y=%d %dx%d\n", b.X, b.Y, b.Width, b.Height)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Verify the face in an image against enrolled users",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		res, err := client().Verify(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Message)
		fmt.Fprintf(out, "Request: %s\n", res.RequestID)
		if res.Success && res.Username != nil {
			fmt.Fprintf(out, "User:    %s\n", *res.Username)
			fmt.Fprintf(out, "Token:   %s\n", res.Token)
		}
		return nil
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <request-id>",
	Short: "Show a stored verification result (requires --token)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when empty)")
	rootCmd.AddCommand(healthCmd, usersCmd, loginCmd, detectCmd, verifyCmd, resultCmd)
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func promptPassword(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password required")
	}
	return password, nil
}
