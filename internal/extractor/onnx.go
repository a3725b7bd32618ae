//go:build cgo
// +build cgo

package extractor

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

// ONNXExtractor runs the networks with ONNX Runtime. It requires CGO and the onnxruntime library.
// Each network holds one session; inference on a network is serialized by its mutex.
type ONNXExtractor struct {
	networks map[models.Architecture]*onnxNetwork
}

type onnxNetwork struct {
	spec   NetworkSpec
	config NetworkConfig

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs map[models.LayerID]*ort.Tensor[float32]
}

// NewONNXExtractor initializes the runtime. Sessions are created on first use of each network.
func NewONNXExtractor(opts ONNXOptions) (*ONNXExtractor, error) {
	if opts.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(opts.RuntimeLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	e := &ONNXExtractor{networks: make(map[models.Architecture]*onnxNetwork)}
	for _, spec := range networkTable {
		e.networks[spec.Architecture] = &onnxNetwork{spec: spec, config: opts.Networks[spec.Architecture]}
	}
	return e, nil
}

// Extract implements Extractor.
func (e *ONNXExtractor) Extract(ctx context.Context, layers []models.LayerID, images []picture.Pixels) ([]Activations, error) {
	if len(images) == 0 {
		return []Activations{}, nil
	}
	groups, err := groupLayers(layers)
	if err != nil {
		return nil, err
	}
	if err := validateImages(images); err != nil {
		return nil, err
	}
	results := newResults(len(images))
	for _, g := range groups {
		if err := e.networks[g.spec.Architecture].run(ctx, g.layers, images, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (n *onnxNetwork) run(ctx context.Context, layers []models.LayerInfo, images []picture.Pixels, results []Activations) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.session == nil {
		if err := n.load(); err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrExtractor, n.spec.Architecture, err)
		}
	}
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		img.Rescale(n.input.GetData(), n.spec.InputLow, n.spec.InputHigh)
		if err := n.session.Run(); err != nil {
			return fmt.Errorf("%w: inference failed: %v", models.ErrExtractor, err)
		}
		for _, l := range layers {
			src := n.outputs[l.ID].GetData()
			v := make([]float32, len(src))
			copy(v, src)
			results[i][l.ID] = v
		}
	}
	return nil
}

// load creates the session with every layer of the network bound as an output.
func (n *onnxNetwork) load() error {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, picture.Size, picture.Size, 3))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputs := make(map[models.LayerID]*ort.Tensor[float32])
	destroy := func() {
		_ = input.Destroy()
		for _, t := range outputs {
			_ = t.Destroy()
		}
	}

	var outputNames []string
	var outputTensors []ort.ArbitraryTensor
	for _, id := range models.AllLayers() {
		info, _ := models.LookupLayer(id)
		if info.Architecture != n.spec.Architecture {
			continue
		}
		shape := ort.NewShape(1, int64(info.Shape[0]), int64(info.Shape[1]), int64(info.Shape[2]))
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			destroy()
			return fmt.Errorf("failed to create output tensor for %s: %w", id, err)
		}
		outputs[id] = t
		name := info.Node
		if override, ok := n.config.OutputNames[id]; ok && override != "" {
			name = override
		}
		outputNames = append(outputNames, name)
		outputTensors = append(outputTensors, t)
	}

	inputName := n.config.InputName
	if inputName == "" {
		inputName = "input"
	}
	session, err := ort.NewAdvancedSession(
		n.config.ModelPath,
		[]string{inputName},
		outputNames,
		[]ort.ArbitraryTensor{input},
		outputTensors,
		nil,
	)
	if err != nil {
		destroy()
		return fmt.Errorf("failed to create ONNX session from %s: %w", n.config.ModelPath, err)
	}
	n.session = session
	n.input = input
	n.outputs = outputs
	return nil
}

// Close destroys the sessions and tensors.
func (e *ONNXExtractor) Close() error {
	var firstErr error
	for _, n := range e.networks {
		n.mu.Lock()
		if n.session != nil {
			if err := n.session.Destroy(); err != nil && firstErr == nil {
				firstErr = err
			}
			n.session = nil
		}
		if n.input != nil {
			_ = n.input.Destroy()
			n.input = nil
		}
		for id, t := range n.outputs {
			_ = t.Destroy()
			delete(n.outputs, id)
		}
		n.mu.Unlock()
	}
	return firstErr
}
