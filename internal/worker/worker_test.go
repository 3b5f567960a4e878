package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// blockingReader never returns, simulating a hung Python process.
type blockingReader struct{ ch chan struct{} }

func (b *blockingReader) Read(p []byte) (int, error) { <-b.ch; return 0, errors.New("closed") }
func (b *blockingReader) Close() error                { close(b.ch); return nil }

// gatedWriter holds every write until gate is closed, then records what it was given.
type gatedWriter struct {
	gate chan struct{}
	got  chan []byte
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	<-g.gate
	g.got <- append([]byte(nil), p...)
	return len(p), nil
}
func (g *gatedWriter) Close() error { return nil }

type fakeFace struct {
	box     [4]int32
	first   float32
	quality float32
	thumb   []byte
}

func okPayload(faces ...fakeFace) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                        // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(faces))) // NumFaces
	for _, f := range faces {
		binary.Write(payload, binary.BigEndian, f.box)
		vec := [types.EmbeddingDim]float32{}
		vec[0] = f.first
		binary.Write(payload, binary.BigEndian, vec)
		binary.Write(payload, binary.BigEndian, f.quality)
		binary.Write(payload, binary.BigEndian, uint32(len(f.thumb)))
		payload.Write(f.thumb)
	}
	return payload.Bytes()
}

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := framed(okPayload(
		fakeFace{box: [4]int32{10, 10, 20, 20}, first: 0.5, quality: 0.99, thumb: []byte{0xCA, 0xFE}},
		fakeFace{box: [4]int32{100, 40, 140, 100}, first: -0.25, quality: 0.5},
	))

	// Cmd is nil because we aren't testing process management, just the protocol
	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	dets, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	if len(dets) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(dets))
	}
	d := dets[0]
	if d.Index != 0 || dets[1].Index != 1 {
		t.Errorf("Indices should follow reply order, got %d and %d", d.Index, dets[1].Index)
	}
	if d.Center != (types.Point{X: 15, Y: 15}) {
		t.Errorf("Expected center (15,15), got %+v", d.Center)
	}
	if len(d.Embedding) != types.EmbeddingDim {
		t.Fatalf("Expected %d-dim embedding, got %d", types.EmbeddingDim, len(d.Embedding))
	}
	// Use epsilon for float comparison
	if math.Abs(float64(d.Embedding[0])-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", d.Embedding[0])
	}
	if math.Abs(float64(d.Quality)-0.99) > 1e-6 {
		t.Errorf("Expected quality 0.99, got %f", d.Quality)
	}
	thumb, ok := d.Handle.([]byte)
	if !ok || !bytes.Equal(thumb, []byte{0xCA, 0xFE}) {
		t.Errorf("Expected thumbnail handle CAFE, got %v", d.Handle)
	}
	if dets[1].Embedding[0] != -0.25 {
		t.Errorf("Second face embedding leaked from first: %f", dets[1].Embedding[0])
	}
}

func TestProcessFrame_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: framed(payload.Bytes())}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrWorkerFailed) {
		t.Errorf("Expected ErrWorkerFailed, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestParseResponse_NoFaces(t *testing.T) {
	dets, err := ParseResponse(okPayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Expected no faces, got %d", len(dets))
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	truncated := okPayload(fakeFace{box: [4]int32{0, 0, 5, 5}, thumb: []byte{1, 2, 3}})
	truncated = truncated[:len(truncated)-2]

	huge := new(bytes.Buffer)
	huge.WriteByte(0)
	binary.Write(huge, binary.BigEndian, uint32(1<<30))

	tests := map[string][]byte{
		"empty":           {},
		"unknown status":  {7},
		"truncated thumb": truncated,
		"huge face count": huge.Bytes(),
		"missing count":   {0, 0, 0},
	}
	for name, payload := range tests {
		if _, err := ParseResponse(payload); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDetect_ContextTimeout(t *testing.T) {
	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &blockingReader{ch: make(chan struct{})},
	}
	defer w.DataPipe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Detect(ctx, []byte("frame"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestDetect_TimeoutDoesNotReadCallerBuffer(t *testing.T) {
	stdin := &gatedWriter{gate: make(chan struct{}), got: make(chan []byte, 2)}
	w := &PythonWorker{
		ID:       3,
		Stdin:    stdin,
		DataPipe: &blockingReader{ch: make(chan struct{})},
	}
	defer w.DataPipe.Close()

	frame := []byte("frame-one")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := w.Detect(ctx, frame); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	// The caller recycles its buffer; the late write must still carry the original frame.
	copy(frame, "XXXXXXXXX")
	close(stdin.gate)

	<-stdin.got // length header
	select {
	case body := <-stdin.got:
		if string(body) != "frame-one" {
			t.Errorf("Worker wrote %q, want %q", body, "frame-one")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the frame write")
	}
}
