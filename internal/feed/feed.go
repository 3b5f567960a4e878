// Package feed decodes camera streams and recordings into JPEG frames with ffmpeg.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
)

const megabyte = 1024 * 1024

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// Buffer pool to reduce GC pressure while streaming
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

// Release hands a frame buffer back once the detector is done with it.
func Release(task types.FrameTask) {
	if task.Data != nil {
		frameBufferPool.Put(task.Data[:0])
	}
}

// Source is one stream to read.
type Source struct {
	CameraID string
	URL      string
	NthFrame int
	// OnFrame, when set, is called for every decoded frame, sampled or not.
	OnFrame func()
}

// Stats counts what a stream produced.
type Stats struct {
	Total int // frames decoded
	Sent  int // frames forwarded
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd creates a decoder that writes raw MJPEG frames to Stdout.
// Network cameras are read over TCP and paced in real time by the source itself.
func NewFFmpegCmd(ctx context.Context, source string) *exec.Cmd {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(source, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", source, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	return exec.CommandContext(ctx, "ffmpeg", args...)
}

// Stream runs ffmpeg over src and forwards every nth frame to out until the stream ends or ctx is
// cancelled. Receivers return buffers with Release.
func Stream(ctx context.Context, src Source, out chan<- types.FrameTask) (Stats, error) {
	ffmpeg := NewFFmpegCmd(ctx, src.URL)

	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	stdout, err := ffmpeg.StdoutPipe()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	defer stdout.Close()

	if err := ffmpeg.Start(); err != nil {
		return Stats{}, fmt.Errorf("failed to start ffmpeg for %s: %w", src.CameraID, err)
	}

	stats, readErr := ReadFrames(ctx, stdout, src, out)
	waitErr := ffmpeg.Wait()

	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	if readErr != nil {
		return stats, readErr
	}
	if waitErr != nil {
		return stats, fmt.Errorf("ffmpeg failed for %s: %w: %s", src.CameraID, waitErr, strings.TrimSpace(stderrBuf.String()))
	}
	return stats, nil
}

// ReadFrames splits an MJPEG byte stream and forwards every nth frame to out.
func ReadFrames(ctx context.Context, r io.Reader, src Source, out chan<- types.FrameTask) (Stats, error) {
	nth := src.NthFrame
	if nth < 1 {
		nth = 1
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	var stats Stats
	for scanner.Scan() {
		stats.Total++
		if src.OnFrame != nil {
			src.OnFrame()
		}
		if stats.Total%nth != 0 {
			continue
		}

		buf := frameBufferPool.Get().([]byte)
		if cap(buf) < len(scanner.Bytes()) {
			buf = make([]byte, len(scanner.Bytes()))
		}
		buf = buf[:len(scanner.Bytes())]
		copy(buf, scanner.Bytes())

		select {
		case out <- types.FrameTask{CameraID: src.CameraID, Index: stats.Total, Data: buf}:
			stats.Sent++
		case <-ctx.Done():
			frameBufferPool.Put(buf[:0])
			return stats, ctx.Err()
		}
	}

	// Check for scanner errors (e.g. token too long, unexpected EOF)
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("frame scanner failed: %w", err)
	}
	slog.Debug("feed finished", "camera", src.CameraID, "frames", stats.Total, "sent", stats.Sent)
	return stats, nil
}

// GetTotalFrames uses ffprobe to count frames for the progress bar
// It returns 0 if the count fails, allowing the caller to fall back to a spinner.
func GetTotalFrames(path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	type ffprobeOutput struct {
		Streams []struct {
			NbFrames      string `json:"nb_frames"`
			NbReadPackets string `json:"nb_read_packets"`
		} `json:"streams"`
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	cmdFast := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path)
	if out, err := cmdFast.Output(); err == nil {
		var res ffprobeOutput
		if json.Unmarshal(out, &res) == nil && len(res.Streams) > 0 {
			if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
				return count
			}
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// SourceID derives a stable camera id for a recording from its path, size, and modification time.
func SourceID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
