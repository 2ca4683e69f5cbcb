package classifier

import (
	"bufio"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/reserve/internal/config"
)

const onnxBackend = "onnx"

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ONNXClassifier runs an ImageNet-style classification model (e.g. ResNet-50)
// in-process. The ONNX Runtime environment must be initialised by the caller.
type ONNXClassifier struct {
	mu           sync.Mutex // session tensors are reused between runs
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
	labels       []string
}

func NewONNXClassifier(cfg config.ClassifierConfig) (*ONNXClassifier, error) {
	labels, err := LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	if len(labels) != cfg.NumClasses {
		return nil, fmt.Errorf("labels file has %d entries, model has %d classes", len(labels), cfg.NumClasses)
	}

	size := cfg.InputSize
	inputShape := ort.NewShape(1, 3, int64(size), int64(size))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(cfg.NumClasses))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create classifier session: %w", err)
	}

	return &ONNXClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    size,
		labels:       labels,
	}, nil
}

func (c *ONNXClassifier) Classify(ctx context.Context, path string) (res *Result, err error) {
	start := time.Now()
	defer func() { record(onnxBackend, start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, newError(KindProcess, "request cancelled", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindProcess, "open image", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, newError(KindParse, "decode image", err)
	}

	input := imageToCHW(img, c.inputSize, c.inputSize)

	c.mu.Lock()
	copy(c.inputTensor.GetData(), input)
	runErr := c.session.Run()
	logits := append([]float32(nil), c.outputTensor.GetData()...)
	c.mu.Unlock()

	if runErr != nil {
		return nil, newError(KindProcess, "run classifier model", runErr)
	}

	idx, prob := top1(softmax(logits))
	if idx < 0 || idx >= len(c.labels) {
		return nil, newError(KindParse, "model produced no usable class", nil)
	}
	confidence := float64(prob)
	return &Result{Label: c.labels[idx], Confidence: &confidence}, nil
}

func (c *ONNXClassifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
}

// LoadLabels reads one class label per line.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// imageToCHW resizes img and converts it to ImageNet-normalised CHW floats:
//
//	pixel = (pixel/255 - mean) / std
func imageToCHW(img image.Image, targetW, targetH int) []float32 {
	resized := resizeImage(img, targetW, targetH)
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*targetW + x
			data[idx] = (float32(r>>8)/255 - imagenetMean[0]) / imagenetStd[0]
			data[plane+idx] = (float32(g>>8)/255 - imagenetMean[1]) / imagenetStd[1]
			data[2*plane+idx] = (float32(b>>8)/255 - imagenetMean[2]) / imagenetStd[2]
		}
	}
	return data
}

// resizeImage performs nearest-neighbour resize.
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func top1(probs []float32) (int, float32) {
	best, bestP := -1, float32(-1)
	for i, p := range probs {
		if p > bestP {
			best, bestP = i, p
		}
	}
	return best, bestP
}
