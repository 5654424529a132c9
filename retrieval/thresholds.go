package retrieval

import "log/slog"

// Thresholds holds the cosine-distance cutoffs for a given embedding space.
// Rows score strictly below the cutoff to count as relevant. The values are
// calibrated per model and dimension; distances are not comparable across
// embedding spaces.
type Thresholds struct {
	// Sections is the cutoff for section and workflow matches.
	Sections float64
	// Definitions is the looser cutoff for definition matches.
	Definitions float64
}

// ThresholdsForModel returns the calibrated cutoffs for an embedding model.
// Unknown model/dimension combinations fall back to the
// text-embedding-3-large/1024 calibration with a warning, since that is the
// most common deployment.
func ThresholdsForModel(model string, dimensions int) Thresholds {
	switch {
	case model == "text-embedding-ada-002":
		return Thresholds{Sections: 0.15, Definitions: 0.20}
	case model == "text-embedding-3-large" && dimensions == 1024:
		return Thresholds{Sections: 0.38, Definitions: 0.45}
	case model == "text-embedding-3-large" && dimensions == 3072:
		return Thresholds{Sections: 0.40, Definitions: 0.45}
	default:
		slog.Warn("retrieval: no calibrated thresholds for embedding model, using text-embedding-3-large/1024 values",
			"model", model,
			"dimensions", dimensions,
		)
		return Thresholds{Sections: 0.38, Definitions: 0.45}
	}
}
