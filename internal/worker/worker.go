package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// maxThumbBytes guards against a corrupt length field allocating gigabytes.
	maxThumbBytes = 8 << 20
)

// ErrWorkerFailed wraps error replies sent by the Python side.
var ErrWorkerFailed = errors.New("python worker error")

// Options configures the detection process.
type Options struct {
	Script             string
	DetectionThreshold float64
	Debug              bool
}

// Detector turns one encoded frame into face detections.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]types.Detection, error)
	Close() error
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

func NewPythonWorker(id int, opts Options) (*PythonWorker, error) {
	args := []string{"-u", opts.Script, "--detection-threshold", strconv.FormatFloat(opts.DetectionThreshold, 'f', -1, 64)}
	if opts.Debug {
		args = append(args, "--debug")
	}
	py := utils.NewSafeCommand("python3", args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and reads one framed reply.
// Protocol: [Length u32 BE][Data] in both directions.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a JPEG frame and decodes the faces found in it.
func (w *PythonWorker) ProcessFrame(frame []byte) ([]types.Detection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return ParseResponse(resp)
}

// Detect is ProcessFrame bounded by ctx. When ctx ends first the process is killed, since the
// pipe is left mid-message and cannot be reused. The frame is copied, so the caller may reuse its
// buffer as soon as Detect returns.
func (w *PythonWorker) Detect(ctx context.Context, frame []byte) ([]types.Detection, error) {
	type result struct {
		dets []types.Detection
		err  error
	}
	frame = bytes.Clone(frame)
	done := make(chan result, 1)
	go func() {
		dets, err := w.ProcessFrame(frame)
		done <- result{dets, err}
	}()

	select {
	case r := <-done:
		return r.dets, r.err
	case <-ctx.Done():
		if w.Cmd != nil && w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
		}
		return nil, fmt.Errorf("worker %d: %w", w.ID, ctx.Err())
	}
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// ParseResponse decodes a worker reply.
//
// OK:    [Status:0][NumFaces u32] then per face [Box 4×int32][Vec 512×f32][Quality f32][ImgLen u32][Img]
// Error: [Status:1][MsgLen u32][Msg]
//
// Detection indices follow the order faces appear in the reply; the thumbnail becomes the handle.
func ParseResponse(payload []byte) ([]types.Detection, error) {
	r := bytes.NewReader(payload)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("reading error length: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, fmt.Errorf("error message length %d exceeds payload", msgLen)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrWorkerFailed, msg)
	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("reading face count: %w", err)
	}

	const minFaceBytes = 4*4 + types.EmbeddingDim*4 + 4 + 4
	if uint64(numFaces)*minFaceBytes > uint64(r.Len()) {
		return nil, fmt.Errorf("face count %d exceeds payload of %d bytes", numFaces, r.Len())
	}

	dets := make([]types.Detection, 0, numFaces)
	for i := 0; i < int(numFaces); i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		var vec [types.EmbeddingDim]float32
		if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
			return nil, fmt.Errorf("face %d embedding: %w", i, err)
		}
		var quality float32
		if err := binary.Read(r, binary.BigEndian, &quality); err != nil {
			return nil, fmt.Errorf("face %d quality: %w", i, err)
		}
		var imgLen uint32
		if err := binary.Read(r, binary.BigEndian, &imgLen); err != nil {
			return nil, fmt.Errorf("face %d thumbnail length: %w", i, err)
		}
		if imgLen > maxThumbBytes || int(imgLen) > r.Len() {
			return nil, fmt.Errorf("face %d thumbnail length %d invalid", i, imgLen)
		}
		var thumb []byte
		if imgLen > 0 {
			thumb = make([]byte, imgLen)
			if _, err := io.ReadFull(r, thumb); err != nil {
				return nil, fmt.Errorf("face %d thumbnail: %w", i, err)
			}
		}

		bbox := types.Rect{X1: float64(box[0]), Y1: float64(box[1]), X2: float64(box[2]), Y2: float64(box[3])}
		d := types.NewDetection(i, bbox, vec[:], thumb)
		if math.IsNaN(float64(quality)) {
			quality = 0
		}
		d.Quality = quality
		dets = append(dets, d)
	}
	return dets, nil
}
