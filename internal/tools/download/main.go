// Command download fetches the guest interpreter artifact, optionally
// verifying its SHA-256 digest. An existing output file is left alone.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var sum string
	cmd := &cobra.Command{
		Use:           "download <url> <output>",
		Short:         "Download the sandbox artifact",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return download(cmd.Context(), newClient(), args[0], args[1], sum)
		},
	}
	cmd.Flags().StringVar(&sum, "sha256", "", "Expected hex SHA-256 of the artifact")
	return cmd
}

func newClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.Logger = nil
	return client
}

func download(ctx context.Context, client *retryablehttp.Client, url, output, sum string) error {
	if _, err := os.Stat(output); err == nil {
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if sum != "" {
		if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, sum) {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, sum)
		}
	}

	return os.Rename(tmp.Name(), output)
}
