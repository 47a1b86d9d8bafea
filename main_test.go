package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{name: "source only", args: []string{"match.mp4"}, want: options{source: "match.mp4"}},
		{name: "output and push", args: []string{"-o", "reel.mp4", "-push", "match.mp4"}, want: options{output: "reel.mp4", push: true, source: "match.mp4"}},
		{name: "watch", args: []string{"-watch", "in", "-o", "out"}, want: options{watch: "in", output: "out"}},
		{name: "no source", args: nil, wantErr: true},
		{name: "two sources", args: []string{"a.mp4", "b.mp4"}, wantErr: true},
		{name: "watch with source", args: []string{"-watch", "in", "a.mp4"}, wantErr: true},
		{name: "unknown flag", args: []string{"-x", "a.mp4"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReelName(t *testing.T) {
	assert.Equal(t, "match_rallies.mp4", reelName("/videos/match.mp4"))
	assert.Equal(t, "final.set_rallies.MOV", reelName("final.set.MOV"))
	assert.Equal(t, "raw_rallies.mp4", reelName("raw"))
}

func TestIsVideoFile(t *testing.T) {
	assert.True(t, isVideoFile("/in/match.mp4"))
	assert.True(t, isVideoFile("/in/match.MKV"))
	assert.False(t, isVideoFile("/in/notes.txt"))
	assert.False(t, isVideoFile("/in/.partial-match.mp4"))
	assert.False(t, isVideoFile("/in/match_rallies.mp4"))
}

func TestWatchDir(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		handled []string
	)
	done := make(chan error, 1)
	go func() {
		done <- watchDir(ctx, dir, 100*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), func(path string) {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, path)
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.mp4"), []byte("video"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match_rallies.mp4"), []byte("reel"), 0600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// Files are not handled twice.
	time.Sleep(300 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{filepath.Join(dir, "match.mp4")}, handled)
}

func TestWatchDir_MissingDirectory(t *testing.T) {
	err := watchDir(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Second, slog.Default(), func(string) {})
	assert.Error(t, err)
}
