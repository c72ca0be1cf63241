package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/andresmejia3/tracklets/internal/tracking"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// mockWorker returns a worker whose data pipe already holds one framed response
func mockWorker(payload []byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(payload)))
	dataPipeMock.Write(payload)

	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock
}

func okPayload(values ...float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(values)))
	binary.Write(payload, binary.BigEndian, values)
	return payload.Bytes()
}

// sentRequest decodes the framed JSON request written to stdin
func sentRequest(t *testing.T, stdin *MockCloser) request {
	t.Helper()
	sent := stdin.Bytes()
	if len(sent) < 4 {
		t.Fatalf("Expected a framed request, got %d bytes", len(sent))
	}
	n := binary.BigEndian.Uint32(sent[:4])
	if int(n) != len(sent)-4 {
		t.Fatalf("Header says %d bytes, body has %d", n, len(sent)-4)
	}
	var req request
	if err := json.Unmarshal(sent[4:], &req); err != nil {
		t.Fatalf("Request is not JSON: %v", err)
	}
	return req
}

func TestCompareCrops(t *testing.T) {
	w, stdin := mockWorker(okPayload(0.25, 0.75))

	pairs := []tracking.CropPair{
		{A: []byte{0xFF, 0xD8, 1}, B: []byte{0xFF, 0xD8, 2}},
		{A: []byte{0xFF, 0xD8, 3}, B: []byte{0xFF, 0xD8, 4}},
	}
	probs, err := w.CompareCrops(context.Background(), pairs)
	if err != nil {
		t.Fatalf("CompareCrops failed: %v", err)
	}

	if len(probs) != 2 || math.Abs(probs[0]-0.25) > 1e-6 || math.Abs(probs[1]-0.75) > 1e-6 {
		t.Errorf("Expected [0.25 0.75], got %v", probs)
	}

	req := sentRequest(t, stdin)
	if req.Op != OpCompareCrops {
		t.Errorf("Expected op %q, got %q", OpCompareCrops, req.Op)
	}
	if len(req.CropPairs) != 2 || !bytes.Equal(req.CropPairs[1].B, pairs[1].B) {
		t.Errorf("Crop pairs were not sent intact: %+v", req.CropPairs)
	}
}

func TestCompareSequences(t *testing.T) {
	w, stdin := mockWorker(okPayload(0.5))

	seq := tracking.Sequence{
		Appearance:     [][]float64{{1, 2}},
		SpatioTemporal: [][]float64{{0.1, 0.2, 0.3, 0.4, 0}},
	}
	probs, err := w.CompareSequences(context.Background(), []tracking.SequencePair{{A: seq, B: seq}})
	if err != nil {
		t.Fatalf("CompareSequences failed: %v", err)
	}
	if len(probs) != 1 || probs[0] != 0.5 {
		t.Errorf("Expected [0.5], got %v", probs)
	}

	req := sentRequest(t, stdin)
	if req.Op != OpCompareSequences || len(req.Sequences) != 1 {
		t.Fatalf("Unexpected request %+v", req)
	}
	if req.Sequences[0].B.SpatioTemporal[0][3] != 0.4 {
		t.Errorf("Sequence rows were not sent intact: %+v", req.Sequences[0])
	}
}

func TestCompareCrops_CountMismatch(t *testing.T) {
	w, _ := mockWorker(okPayload(0.1))

	_, err := w.CompareCrops(context.Background(), []tracking.CropPair{{}, {}})
	if err == nil {
		t.Fatal("Expected error when the worker returns fewer results than pairs")
	}
}

func TestExtractFeatures(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, [2]uint32{2, 3}) // 2 vectors of dim 3
	binary.Write(payload, binary.BigEndian, []float32{1, 2, 3, 4, 5, 6})

	w, stdin := mockWorker(payload.Bytes())

	feats, err := w.ExtractFeatures(context.Background(), [][]byte{{0xFF, 0xD8}, {0xFF, 0xD8}})
	if err != nil {
		t.Fatalf("ExtractFeatures failed: %v", err)
	}
	if len(feats) != 2 || len(feats[1]) != 3 || feats[1][2] != 6 {
		t.Errorf("Expected [[1 2 3] [4 5 6]], got %v", feats)
	}
	if req := sentRequest(t, stdin); req.Op != OpExtractFeatures || len(req.Crops) != 2 {
		t.Errorf("Unexpected request %+v", req)
	}
}

func TestExtractFeatures_Truncated(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, [2]uint32{1, 512})
	binary.Write(payload, binary.BigEndian, []float32{1, 2})

	w, _ := mockWorker(payload.Bytes())
	if _, err := w.ExtractFeatures(context.Background(), [][]byte{{0xFF}}); err == nil {
		t.Fatal("Expected error for a truncated feature block")
	}
}

func TestWorker_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w, _ := mockWorker(payload.Bytes())

	_, err := w.CompareCrops(context.Background(), []tracking.CropPair{{A: []byte("a"), B: []byte("b")}})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestWorker_UnknownStatus(t *testing.T) {
	w, _ := mockWorker([]byte{7})
	if _, err := w.CompareSequences(context.Background(), nil); err == nil {
		t.Fatal("Expected error for unknown status byte")
	}
}

func TestWorker_ClosedPipe(t *testing.T) {
	// An interpreter that died before answering leaves an empty pipe
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if _, err := w.CompareCrops(context.Background(), nil); err == nil {
		t.Fatal("Expected error reading from a closed pipe")
	}
}

func TestWorker_CancelledContext(t *testing.T) {
	w, stdin := mockWorker(okPayload(0.5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.CompareCrops(ctx, []tracking.CropPair{{}}); err != context.Canceled {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if stdin.Len() != 0 {
		t.Error("Nothing should be sent once the context is cancelled")
	}
}
