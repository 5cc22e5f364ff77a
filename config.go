package kato

// Config is the closed, session-scoped configuration struct of spec §6.
// Unknown fields are rejected at the JSON/CLI boundary (an external
// collaborator's concern, see SPEC_FULL.md); invalid enum values are
// normalized to their defaults by Normalize, which never fails an
// observation.
type Config struct {
	MaxPatternLength        int
	Persistence             int
	RecallThreshold         float64
	PredictionThreshold     *float64
	MaxPredictions          int
	Smoothness              int
	Quiescence              int
	SearchDepth             int
	Sort                    bool
	ProcessPredictions      bool
	AlwaysUpdateFrequencies bool
	StmMode                 StmMode
	SimilarityMetric        SimilarityMetric
	VectorSimilarityMetric  VectorSimilarityMetric
	VectorRecallK           int
	Logger                  Logger `json:"-"`
}

// DefaultConfig returns the configuration defaults tabulated in spec §6.
func DefaultConfig() Config {
	return Config{
		MaxPatternLength:        0,
		Persistence:             5,
		RecallThreshold:         0.1,
		MaxPredictions:          100,
		Smoothness:              3,
		Quiescence:              3,
		SearchDepth:             10,
		Sort:                    true,
		ProcessPredictions:      true,
		AlwaysUpdateFrequencies: false,
		StmMode:                 StmModeClear,
		SimilarityMetric:        SimilarityITFDF,
		VectorSimilarityMetric:  VectorEuclidean,
		VectorRecallK:           3,
		Logger:                  NopLogger(),
	}
}

// PredictionThresholdOrDefault resolves the effective prediction filter
// threshold: an explicit override if set, else RecallThreshold (spec §4.5,
// "Open Questions").
func (c Config) PredictionThresholdOrDefault() float64 {
	if c.PredictionThreshold != nil {
		return *c.PredictionThreshold
	}
	return c.RecallThreshold
}

// Normalize clamps invalid enum fields to their defaults and fills in any
// zero-value numeric fields that must never be zero, emitting a
// ConfigNormalized Warning for each correction. It never returns an error:
// per spec §6, invalid configuration degrades, it does not fail observations.
func (c Config) Normalize() (Config, []Warning) {
	var warnings []Warning
	out := c

	switch out.StmMode {
	case StmModeClear, StmModeRolling:
	default:
		warnings = append(warnings, Warning{WarnConfigNormalized, "stm_mode normalized to CLEAR"})
		out.StmMode = StmModeClear
	}

	switch out.SimilarityMetric {
	case SimilarityITFDF, SimilarityJaccard, SimilarityCosineSymbol:
	default:
		warnings = append(warnings, Warning{WarnConfigNormalized, "similarity_metric normalized to itfdf"})
		out.SimilarityMetric = SimilarityITFDF
	}

	switch out.VectorSimilarityMetric {
	case VectorEuclidean, VectorCosine, VectorDot, VectorManhattan:
	default:
		warnings = append(warnings, Warning{WarnConfigNormalized, "vector_similarity_metric normalized to euclidean"})
		out.VectorSimilarityMetric = VectorEuclidean
	}

	if out.Persistence < 1 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "persistence normalized to 1"})
		out.Persistence = 1
	}
	if out.MaxPredictions < 1 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "max_predictions normalized to 1"})
		out.MaxPredictions = 1
	}
	if out.Smoothness < 1 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "smoothness normalized to 1"})
		out.Smoothness = 1
	}
	if out.SearchDepth < 1 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "search_depth normalized to 1"})
		out.SearchDepth = 1
	}
	if out.MaxPatternLength < 0 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "max_pattern_length normalized to 0"})
		out.MaxPatternLength = 0
	}
	if out.Quiescence < 0 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "quiescence normalized to 0"})
		out.Quiescence = 0
	}
	if out.RecallThreshold < 0 || out.RecallThreshold > 1 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "recall_threshold clamped to [0,1]"})
		out.RecallThreshold = clamp01(out.RecallThreshold)
	}
	if out.VectorRecallK < 0 {
		warnings = append(warnings, Warning{WarnConfigNormalized, "vector_recall_k normalized to 0"})
		out.VectorRecallK = 0
	}
	if out.Logger == nil {
		out.Logger = NopLogger()
	}

	return out, warnings
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
