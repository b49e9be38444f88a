package uploader

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string]string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func TestGenerateS3Key(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"twitch_ludwig_20251230_1030.jsonl", "2025/12/30/twitch/ludwig/twitch_ludwig_20251230_1030.jsonl", false},
		{"kick_some_channel_20240102_0000.jsonl", "2024/01/02/kick/some_channel/kick_some_channel_20240102_0000.jsonl", false},
		{"twitch_ludwig.jsonl", "", true},
		{"twitch_ludwig_2025_1030.jsonl", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := generateS3Key(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUploader_ScanUploadsAndDeletes(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/twitch_orchid_20250101_0000.jsonl", []byte("{}\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/notes.txt", []byte("skip"), 0o644))

	client := &fakeS3{}
	u := newUploader(fs, client, Options{Bucket: "logs", DeleteAfter: true})

	require.NoError(t, u.ScanAndUploadExisting(context.Background(), "/data"))
	u.Wait()

	assert.Equal(t, map[string]string{
		"logs/2025/01/01/twitch/orchid/twitch_orchid_20250101_0000.jsonl": "{}\n",
	}, client.objects)

	exists, err := afero.Exists(fs, "/data/twitch_orchid_20250101_0000.jsonl")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = afero.Exists(fs, "/data/notes.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUploader_RetriesWithBackoff(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/kick_xqc_20250101_0000.jsonl"
	require.NoError(t, afero.WriteFile(fs, path, []byte("line\n"), 0o644))

	client := &fakeS3{failures: 2}
	u := newUploader(fs, client, Options{Bucket: "logs", MaxRetries: 3, BaseBackoff: time.Millisecond})

	u.upload(context.Background(), path)
	u.Wait()

	assert.Equal(t, 3, client.calls)
	assert.Len(t, client.objects, 1)

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.True(t, exists, "file kept when DeleteAfter is off")
}

func TestUploader_GivesUp(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/kick_xqc_20250101_0000.jsonl"
	require.NoError(t, afero.WriteFile(fs, path, []byte("line\n"), 0o644))

	client := &fakeS3{failures: 10}
	u := newUploader(fs, client, Options{Bucket: "logs", MaxRetries: 1, BaseBackoff: time.Millisecond, DeleteAfter: true})

	u.upload(context.Background(), path)
	u.Wait()

	assert.Equal(t, 2, client.calls)
	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUploader_StartDrainsQueue(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/twitch_a_20250101_0000.jsonl"
	require.NoError(t, afero.WriteFile(fs, path, []byte("x\n"), 0o644))

	client := &fakeS3{}
	u := newUploader(fs, client, Options{Bucket: "logs"})

	files := make(chan string, 1)
	files <- path

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Start(ctx, files) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.objects) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
