package classifier

import (
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/threatwatch/internal/cpuspec"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

// Options configures a TFLite classifier
type Options struct {
	Threads       int    // 0 chooses from the CPU topology
	EmbeddingSize int    // expected embedding width for paired layouts
	ModelPath     string // for error context only
}

// TFLite runs a YAMNet-shaped model through the TensorFlow Lite C API.
// Calls to Infer are serialized.
type TFLite struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	labels      []string
	outputs     outputMap
	inputSize   int
	scoresWidth int
	embWidth    int
	modelPath   string
	closed      bool
}

var _ Classifier = (*TFLite)(nil)

// NewTFLite builds an interpreter for modelData and resolves its output layout.
func NewTFLite(modelData []byte, labels []string, opts Options) (*TFLite, error) {
	start := time.Now()
	log := GetLogger()

	if len(labels) == 0 {
		return nil, errors.Newf("no labels provided").
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Category(errors.CategoryModelInit).
			ModelContext(opts.ModelPath, "").
			Context("model_size_mb", len(modelData)/1024/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := cpuspec.ThreadCount(opts.Threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, user_data any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			ModelContext(opts.ModelPath, "").
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Category(errors.CategoryModelInit).
			ModelContext(opts.ModelPath, "").
			Build()
	}

	c := &TFLite{
		model:       model,
		interpreter: interpreter,
		labels:      append([]string(nil), labels...),
		modelPath:   opts.ModelPath,
	}

	input := interpreter.GetInputTensor(0)
	if input == nil {
		c.release()
		return nil, errors.Newf("cannot get input tensor").
			Category(errors.CategoryModelInit).
			ModelContext(opts.ModelPath, "").
			Build()
	}
	c.inputSize = tensorElements(input)

	infos := make([]tensorInfo, interpreter.GetOutputTensorCount())
	for i := range infos {
		t := interpreter.GetOutputTensor(i)
		infos[i] = tensorInfo{Name: t.Name(), Dims: tensorDims(t)}
	}

	outputs, err := resolveLayout(infos, len(labels), opts.EmbeddingSize)
	if err != nil {
		c.release()
		return nil, err
	}
	c.outputs = outputs
	c.scoresWidth = infos[outputs.scores].lastDim()
	if outputs.embedding >= 0 {
		c.embWidth = infos[outputs.embedding].lastDim()
	}

	log.Info("classifier model loaded",
		logger.String("layout", outputs.layout.String()),
		logger.Int("input_samples", c.inputSize),
		logger.Int("labels", len(labels)),
		logger.Int("embedding_size", c.embWidth),
		logger.Int("threads", threads),
		logger.Duration("elapsed", time.Since(start)))

	return c, nil
}

// Infer implements Classifier.
func (c *TFLite) Infer(window []float32) (*Inference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.Newf("classifier is closed").
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}
	if len(window) != c.inputSize {
		return nil, errors.Newf("window has %d samples, model expects %d", len(window), c.inputSize).
			Component("classifier").
			Category(errors.CategoryInference).
			Context("window_samples", len(window)).
			Context("input_samples", c.inputSize).
			Build()
	}

	copy(c.interpreter.GetInputTensor(0).Float32s(), window)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}

	// output buffers are reused by the interpreter; buildInference copies
	scores := c.interpreter.GetOutputTensor(c.outputs.scores).Float32s()
	var embedding []float32
	if c.outputs.embedding >= 0 {
		embedding = c.interpreter.GetOutputTensor(c.outputs.embedding).Float32s()
	}
	return buildInference(c.outputs, scores, c.scoresWidth, embedding, c.embWidth)
}

// Labels implements Classifier.
func (c *TFLite) Labels() []string { return c.labels }

// EmbeddingSize implements Classifier.
func (c *TFLite) EmbeddingSize() int { return c.embWidth }

// Layout reports the resolved output layout.
func (c *TFLite) Layout() Layout { return c.outputs.layout }

// InputSize is the number of samples Infer expects.
func (c *TFLite) InputSize() int { return c.inputSize }

// Close releases the interpreter. It is safe to call more than once.
func (c *TFLite) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.release()
	GetLogger().Debug("classifier released", logger.String("model", c.modelPath))
	return nil
}

func (c *TFLite) release() {
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
}

func tensorDims(t *tflite.Tensor) []int {
	dims := make([]int, t.NumDims())
	for i := range dims {
		dims[i] = t.Dim(i)
	}
	return dims
}

func tensorElements(t *tflite.Tensor) int {
	n := 1
	for _, d := range tensorDims(t) {
		n *= d
	}
	return n
}
