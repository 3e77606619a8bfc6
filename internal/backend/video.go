package backend

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Video is an opened input walked frame by frame by a processing run.
type Video interface {
	Len() int
	Frame(i int) (image.Image, error)
}

// Loader opens the video selected by the frontend.
type Loader func(path string) (Video, error)

var errNoFrames = errors.New("no frames found")

// imageSequence is a video stored as one image file per frame.
type imageSequence struct {
	files []string
}

// OpenImageSequence opens path as a video. A directory yields its PNG and
// JPEG files in name order; a single image file is a one-frame video.
func OpenImageSequence(path string) (Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "open video")
	}
	if !info.IsDir() {
		return &imageSequence{files: []string{path}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "open video")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.Wrap(errNoFrames, path)
	}
	sort.Strings(files)

	return &imageSequence{files: files}, nil
}

func (s *imageSequence) Len() int {
	return len(s.files)
}

func (s *imageSequence) Frame(i int) (image.Image, error) {
	if i < 0 || i >= len(s.files) {
		return nil, errors.Errorf("frame %d out of range [0,%d)", i, len(s.files))
	}

	f, err := os.Open(s.files[i])
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d", i)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode frame %d", i)
	}
	return img, nil
}
