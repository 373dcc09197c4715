package providers

// Stop sequences every chat request ends on: the end-of-sequence token and
// the closing instruction tag.
const (
	StopEOS          = "</s>"
	StopCloseInstTag = "[/INST]"
)

// Fixed sampling configuration for chat generation.
const (
	DefaultTopK              = 50
	DefaultTopP              = 0.7
	DefaultRepetitionPenalty = 1.2
	DefaultBatchSize         = 1
)

// Parameters are the sampling parameters sent alongside the prompt.
type Parameters struct {
	MaxNewTokens      int      `json:"max_new_tokens" validate:"min=1"`
	Temperature       float64  `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	TopK              int      `json:"top_k,omitempty" validate:"gte=0"`
	TopP              float64  `json:"top_p,omitempty" validate:"gte=0,lte=1"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty" validate:"gte=0"`
	BatchSize         int      `json:"batch_size,omitempty" validate:"gte=0"`
	Stop              []string `json:"stop,omitempty" validate:"omitempty,dive,nonblank"`
	ReturnFullText    *bool    `json:"return_full_text,omitempty"`
}

// ChatParameters returns the fixed chat sampling configuration with the
// caller's token budget and temperature.
func ChatParameters(maxNewTokens int, temperature float64) Parameters {
	return Parameters{
		MaxNewTokens:      maxNewTokens,
		Temperature:       temperature,
		TopK:              DefaultTopK,
		TopP:              DefaultTopP,
		RepetitionPenalty: DefaultRepetitionPenalty,
		BatchSize:         DefaultBatchSize,
		Stop:              []string{StopEOS, StopCloseInstTag},
	}
}

// Request is the JSON body of a text-generation call.
type Request struct {
	Inputs     string     `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

// generation is one element of a text-generation response.
type generation struct {
	GeneratedText *string `json:"generated_text"`
}
