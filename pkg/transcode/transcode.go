// Package transcode is the fallback that turns a photo or photo album into
// a playable video (C8), shelling out to ffmpeg. ffmpeg is an external
// collaborator; its absence on the host is a hard failure surfaced at the
// first call.
package transcode

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// EnsureFFmpeg reports an error if ffmpeg is not available on PATH.
func EnsureFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("transcode: ffmpeg is required but not found in PATH: %w", err)
	}
	return nil
}

// PhotoToVideo produces a constant-duration video showing one image, at
// least 1s and 1fps, pixel format yuv420p, dimensions rounded down to
// even numbers.
func PhotoToVideo(imagePath, outputPath string, seconds, fps int) error {
	if err := EnsureFFmpeg(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("transcode: create output dir: %w", err)
	}

	seconds = max1(seconds)
	fps = max1(fps)

	cmd := exec.Command("ffmpeg", "-y",
		"-loop", "1",
		"-i", imagePath,
		"-t", strconv.Itoa(seconds),
		"-vf", fmt.Sprintf("fps=%d,format=yuv420p,scale=trunc(iw/2)*2:trunc(ih/2)*2", fps),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	)
	return run(cmd)
}

// AlbumToVideo concatenates images in list order, each shown for
// slideSeconds. The last image is duplicated once in the concat list
// (without an explicit duration) so that the final slide reaches full
// duration under the concat demuxer's trailing-frame behavior, rather than
// re-encoding each slide explicitly.
func AlbumToVideo(imagePaths []string, outputPath string, slideSeconds, fps int) error {
	if len(imagePaths) == 0 {
		return fmt.Errorf("transcode: album_to_video requires at least one image")
	}
	if err := EnsureFFmpeg(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("transcode: create output dir: %w", err)
	}

	slideSeconds = max1(slideSeconds)
	fps = max1(fps)

	concatFile, err := writeConcatFile(imagePaths, slideSeconds)
	if err != nil {
		return err
	}
	defer os.Remove(concatFile)

	cmd := exec.Command("ffmpeg", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-vf", fmt.Sprintf("fps=%d,format=yuv420p,scale=trunc(iw/2)*2:trunc(ih/2)*2", fps),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	)
	return run(cmd)
}

func writeConcatFile(imagePaths []string, slideSeconds int) (string, error) {
	f, err := os.CreateTemp("", "clipbridge-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("transcode: create concat file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, p := range imagePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(&b, "file '%s'\n", concatEscape(abs))
		fmt.Fprintf(&b, "duration %d\n", slideSeconds)
	}
	last, err := filepath.Abs(imagePaths[len(imagePaths)-1])
	if err != nil {
		last = imagePaths[len(imagePaths)-1]
	}
	fmt.Fprintf(&b, "file '%s'\n", concatEscape(last))

	if _, err := f.WriteString(b.String()); err != nil {
		return "", fmt.Errorf("transcode: write concat file: %w", err)
	}
	return f.Name(), nil
}

func concatEscape(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "'", `'\''`)
}

func run(cmd *exec.Cmd) error {
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("transcode: ffmpeg failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
