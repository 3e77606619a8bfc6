package backend

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParams_Defaults(t *testing.T) {
	p := NewParams(DefaultParams)

	assert.Equal(t, "640x640", p.Get("det_size"))
	assert.Equal(t, "base", p.Get("whisper_model"))
	assert.Equal(t, "zh", p.Get("language"))
}

func TestParams_Set(t *testing.T) {
	p := NewParams(DefaultParams)

	require.NoError(t, p.Set("language", strPtr("ja")))
	assert.Equal(t, "ja", p.Get("language"))

	require.NoError(t, p.Set("language", nil))
	assert.Equal(t, "zh", p.Get("language"))

	err := p.Set("language", strPtr("fr"))
	assert.True(t, errors.Is(err, errBadChoice))
	assert.Equal(t, "zh", p.Get("language"))

	err = p.Set("threshold", strPtr("0.5"))
	assert.True(t, errors.Is(err, errUnknownParam))
}

func TestParams_ListPutsCurrentFirst(t *testing.T) {
	p := NewParams(DefaultParams)
	require.NoError(t, p.Set("whisper_model", strPtr("medium")))

	list := p.List()
	require.Len(t, list, len(DefaultParams))
	assert.Equal(t, "whisper_model", list[2].Name)
	assert.Equal(t, []string{"medium", "base", "tiny", "small", "large"}, list[2].Values)
	assert.Equal(t, "medium", list[2].Current())
}

func TestParams_Snapshot(t *testing.T) {
	p := NewParams(DefaultParams)
	snap := p.Snapshot()
	snap["language"] = "en"

	assert.Equal(t, "zh", p.Get("language"), "snapshot is a copy")
}

func TestParams_DetSize(t *testing.T) {
	tests := []struct {
		value string
		w, h  int
		err   error
	}{
		{"640x480", 640, 480, nil},
		{"1x1", 1, 1, nil},
		{"640", 0, 0, errDetSize},
		{"640x", 0, 0, errDetSize},
		{"-1x5", 0, 0, errDetSize},
		{"0x5", 0, 0, errDetSizeSign},
		{"99999999999999999999x1", 0, 0, errDetSize},
	}

	for _, tt := range tests {
		p := NewParams(DefaultParams)
		require.NoError(t, p.Set("det_size", strPtr(tt.value)))

		w, h, err := p.DetSize()
		if tt.err != nil {
			assert.True(t, errors.Is(err, tt.err), "%s: err = %v", tt.value, err)
			continue
		}
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.w, w)
		assert.Equal(t, tt.h, h)
	}
}

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: shade})

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestOpenImageSequence_Dir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), 2)
	writePNG(t, filepath.Join(dir, "001.png"), 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	v, err := OpenImageSequence(dir)
	require.NoError(t, err)
	require.Equal(t, 2, v.Len())

	first, err := v.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), first.(*image.Gray).GrayAt(0, 0).Y, "frames are in name order")

	_, err = v.Frame(2)
	assert.Error(t, err)
}

func TestOpenImageSequence_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.png")
	writePNG(t, path, 9)

	v, err := OpenImageSequence(path)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Len())
}

func TestOpenImageSequence_Errors(t *testing.T) {
	_, err := OpenImageSequence(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = OpenImageSequence(t.TempDir())
	assert.True(t, errors.Is(err, errNoFrames))

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0600))
	v, err := OpenImageSequence(bad)
	require.NoError(t, err)
	_, err = v.Frame(0)
	assert.Error(t, err)
}

func TestSaveRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	path, err := saveRecord(dir, Record{
		Video:    "/videos/meeting.mp4",
		Params:   map[string]string{"language": "en"},
		Frames:   12,
		Started:  start,
		Finished: start.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "meeting.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 12, got.Frames)
	assert.Equal(t, "en", got.Params["language"])
	assert.True(t, got.Started.Equal(start))
}
