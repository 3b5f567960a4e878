package feed

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
)

func jpeg(payload byte) []byte {
	return []byte{0xFF, 0xD8, payload, 0x02, 0x03, 0xFF, 0xD9}
}

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	jpegData := jpeg(0x01)

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestReadFramesSamplesEveryNth(t *testing.T) {
	var stream []byte
	for i := 1; i <= 7; i++ {
		stream = append(stream, jpeg(byte(i))...)
	}

	out := make(chan types.FrameTask, 10)
	decoded := 0
	src := Source{CameraID: "cam1", NthFrame: 3, OnFrame: func() { decoded++ }}

	stats, err := ReadFrames(context.Background(), bytes.NewReader(stream), src, out)
	if err != nil {
		t.Fatalf("ReadFrames failed: %v", err)
	}
	close(out)

	if stats.Total != 7 || stats.Sent != 2 || decoded != 7 {
		t.Fatalf("unexpected stats %+v (decoded %d)", stats, decoded)
	}

	var got []types.FrameTask
	for task := range out {
		got = append(got, task)
	}
	if got[0].Index != 3 || got[1].Index != 6 {
		t.Errorf("expected frames 3 and 6, got %d and %d", got[0].Index, got[1].Index)
	}
	if got[0].CameraID != "cam1" {
		t.Errorf("camera id not propagated: %q", got[0].CameraID)
	}
	if !bytes.Equal(got[1].Data, jpeg(6)) {
		t.Errorf("frame 6 payload mismatch: %X", got[1].Data)
	}
	for _, task := range got {
		Release(task)
	}
}

func TestReadFramesStopsOnCancel(t *testing.T) {
	stream := append(jpeg(1), jpeg(2)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan types.FrameTask) // unbuffered and never read
	_, err := ReadFrames(ctx, bytes.NewReader(stream), Source{CameraID: "cam1", NthFrame: 1}, out)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSourceID(t *testing.T) {
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := SourceID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := SourceID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := SourceID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}
