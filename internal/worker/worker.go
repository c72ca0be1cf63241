package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/tracklets/internal/tracking"
	"github.com/andresmejia3/tracklets/internal/utils" // Using the SafeCommand wrapper
)

// Operations understood by the Python side.
const (
	OpCompareCrops     = "compare_crops"
	OpCompareSequences = "compare_sequences"
	OpExtractFeatures  = "extract_features"
)

const (
	statusOK    = 0
	statusError = 1
)

// PythonWorker runs the comparator model in a Python subprocess. Requests go
// over stdin, responses come back on a dedicated pipe (FD 3) so library
// chatter on stdout cannot corrupt the stream.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	// one request in flight at a time
	mu sync.Mutex
}

// Worker satisfies every model capability the tracker needs.
var (
	_ tracking.CropComparator     = (*PythonWorker)(nil)
	_ tracking.SequenceComparator = (*PythonWorker)(nil)
	_ tracking.FeatureExtractor   = (*PythonWorker)(nil)
)

// NewPythonWorker starts `python -u script --model modelFile`. The process
// is killed when ctx is cancelled.
func NewPythonWorker(ctx context.Context, id int, python, script, modelFile string) (*PythonWorker, error) {
	py := utils.NewSafeCommand(ctx, python, "-u", script, "--model", modelFile)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
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

// Communicate sends one framed request and returns the framed response.
// Protocol in both directions: [u32 big endian length][data].
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed interpreter surfaces here
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

type cropPair struct {
	A []byte `json:"a"`
	B []byte `json:"b"`
}

type request struct {
	Op        string                  `json:"op"`
	CropPairs []cropPair              `json:"crop_pairs,omitempty"`
	Sequences []tracking.SequencePair `json:"sequences,omitempty"`
	Crops     [][]byte                `json:"crops,omitempty"`
}

// call sends a JSON request and returns the body after an OK status byte
func (w *PythonWorker) call(ctx context.Context, req request) (*bytes.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Op, err)
	}

	resp, err := w.Communicate(data)
	if err != nil {
		return nil, fmt.Errorf("worker %d %s: %w", w.ID, req.Op, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("worker %d %s: empty response", w.ID, req.Op)
	}

	body := bytes.NewReader(resp[1:])
	switch resp[0] {
	case statusOK:
		return body, nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(body, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("reading error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(body, msg); err != nil {
			return nil, fmt.Errorf("reading error message: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("worker %d %s: unknown status %d", w.ID, req.Op, resp[0])
	}
}

// readFloats reads a u32 count followed by that many float32 values
func readFloats(r io.Reader, want int) ([]float64, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("reading result count: %w", err)
	}
	if int(n) != want {
		return nil, fmt.Errorf("expected %d results, got %d", want, n)
	}

	raw := make([]float32, n)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	out := make([]float64, n)
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

// CompareCrops returns the same-object probability of each crop pair.
func (w *PythonWorker) CompareCrops(ctx context.Context, pairs []tracking.CropPair) ([]float64, error) {
	req := request{Op: OpCompareCrops, CropPairs: make([]cropPair, len(pairs))}
	for i, p := range pairs {
		req.CropPairs[i] = cropPair{A: p.A, B: p.B}
	}

	body, err := w.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return readFloats(body, len(pairs))
}

// CompareSequences returns the same-track probability of each sequence pair.
func (w *PythonWorker) CompareSequences(ctx context.Context, pairs []tracking.SequencePair) ([]float64, error) {
	body, err := w.call(ctx, request{Op: OpCompareSequences, Sequences: pairs})
	if err != nil {
		return nil, err
	}
	return readFloats(body, len(pairs))
}

// ExtractFeatures returns one appearance vector per crop. The response
// carries [u32 n][u32 dim] followed by n*dim float32 values.
func (w *PythonWorker) ExtractFeatures(ctx context.Context, crops [][]byte) ([][]float64, error) {
	body, err := w.call(ctx, request{Op: OpExtractFeatures, Crops: crops})
	if err != nil {
		return nil, err
	}

	var header [2]uint32
	if err := binary.Read(body, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("reading feature header: %w", err)
	}
	n, dim := int(header[0]), int(header[1])
	if n != len(crops) {
		return nil, fmt.Errorf("expected %d feature vectors, got %d", len(crops), n)
	}
	if dim > math.MaxInt32 || n*dim*4 > body.Len() {
		return nil, fmt.Errorf("feature block of %dx%d exceeds response size", n, dim)
	}

	raw := make([]float32, n*dim)
	if err := binary.Read(body, binary.BigEndian, raw); err != nil {
		return nil, fmt.Errorf("reading features: %w", err)
	}

	out := make([][]float64, n)
	for i := range out {
		vec := make([]float64, dim)
		for j := range vec {
			vec[j] = float64(raw[i*dim+j])
		}
		out[i] = vec
	}
	return out, nil
}

// Close shuts the pipes and waits for the interpreter to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
