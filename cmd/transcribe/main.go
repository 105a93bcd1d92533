package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prabhanshu11/omarchy-voice-typing/internal/client"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8767", "Transcription server URL")
	timeout := flag.Duration("timeout", 2*time.Minute, "Request timeout")
	health := flag.Bool("health", false, "Query server health and exit")
	switchModel := flag.String("switch", "", "Request a switch to the named model and exit")
	flag.Usage = usage
	flag.Parse()

	c, err := client.NewClient(client.Config{
		BaseURL: *serverURL,
		Timeout: *timeout,
	})
	if err != nil {
		fatalf("invalid server URL: %v", err)
	}

	ctx := context.Background()

	switch {
	case *health:
		h, err := c.Health(ctx)
		if err != nil {
			fatalf("health check failed: %v", err)
		}
		fmt.Printf("status: %s\nmodel:  %s\n", h.Status, h.Model)

	case *switchModel != "":
		res, err := c.Switch(ctx, *switchModel)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && len(apiErr.Allowed) > 0 {
				fatalf("%v (allowed: %s)", err, strings.Join(apiErr.Allowed, ", "))
			}
			fatalf("switch failed: %v", err)
		}
		fmt.Printf("status: %s\nmodel:  %s\n", res.Status, res.Model)

	default:
		if flag.NArg() != 1 {
			usage()
			os.Exit(2)
		}
		transcribe(ctx, c, flag.Arg(0))
	}
}

func transcribe(ctx context.Context, c *client.Client, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatalf("failed to read audio file: %v", err)
	}

	result, err := c.Transcribe(ctx, data)
	if err != nil {
		fatalf("transcription failed: %v", err)
	}

	fmt.Println(result.Text)
	fmt.Fprintf(os.Stderr, "model=%s language=%s duration=%.2fs transcribe_time=%.2fs\n",
		result.Model, result.Language, result.Duration, result.TranscribeTime)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] <audio-file>

Sends a WAV (or raw PCM16 mono 24kHz) file to a running transcription
server and prints the recognized text.

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
