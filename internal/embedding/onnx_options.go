package embedding

// ONNXOptions configures the ONNX Runtime embedder.
type ONNXOptions struct {
	ModelPath  string
	ModelName  string
	Dimensions int
	MaxTokens  int
}

func (o *ONNXOptions) applyDefaults() {
	if o.Dimensions <= 0 {
		o.Dimensions = 384
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 256
	}
}
