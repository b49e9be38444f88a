package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/john/orchid/internal/kick"
)

type kickSection struct {
	Enabled  bool                 `yaml:"enabled"`
	Channels []kick.ChannelConfig `yaml:"channels"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: resolve-kick-channels <channel1> [channel2] ...")
		fmt.Println("\nExample:")
		fmt.Println("  resolve-kick-channels paymoneywubby xqc")
		os.Exit(1)
	}

	channels := os.Args[1:]
	fmt.Printf("Resolving %d Kick channel(s)...\n\n", len(channels))

	var resolved []kick.ChannelConfig
	failed := make(map[string]error)

	for _, channel := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		info, err := kick.ResolveChannel(ctx, kick.DefaultAPIBaseURL, channel)
		cancel()
		if err != nil {
			failed[channel] = err
			continue
		}
		resolved = append(resolved, kick.ChannelConfig{Slug: info.Slug, ChatroomID: info.Chatroom.ID})
	}

	if len(failed) > 0 {
		fmt.Println("✗ Failed to resolve:")
		fmt.Println("---")
		for slug, err := range failed {
			fmt.Printf("%s: %v\n", slug, err)
		}
		fmt.Println()
	}

	if len(resolved) == 0 {
		os.Exit(1)
	}

	out, err := yaml.Marshal(map[string]kickSection{
		"kick": {Enabled: true, Channels: resolved},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode yaml: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Add this to your config.yaml:")
	fmt.Println("---")
	fmt.Print(string(out))
}
