package detection

import "strings"

// defaultTreatmentKey is the catch-all entry used for labels without a
// dedicated default. The table is total: every lookup returns a non-empty
// ordered list.
const defaultTreatmentKey = "default"

// defaultTreatments maps normalized disease labels to their default treatment
// recommendations, used when the classifier did not supply its own and no
// earlier detection recorded any.
var defaultTreatments = map[string][]string{
	"healthy": {
		"No treatment needed",
		"Continue regular watering and feeding schedule",
		"Inspect leaves weekly for early signs of disease",
	},
	"bacterial_blight": {
		"Remove and destroy infected leaves",
		"Avoid overhead watering to limit spread",
		"Apply a copper-based bactericide",
		"Rotate crops next season",
	},
	"leaf_spot": {
		"Prune affected foliage and clear fallen leaves",
		"Improve air circulation around plants",
		"Apply a broad-spectrum fungicide",
	},
	"rust": {
		"Remove infected leaves at first sign of pustules",
		"Water at the base, keep foliage dry",
		"Apply sulfur or a rust-specific fungicide",
		"Space plants to reduce humidity",
	},
	"powdery_mildew": {
		"Increase air circulation and sunlight exposure",
		"Apply neem oil or potassium bicarbonate spray",
		"Remove heavily coated leaves",
	},
	"early_blight": {
		"Remove lower infected leaves",
		"Mulch soil to prevent splash-up",
		"Apply chlorothalonil or copper fungicide",
		"Stake plants for better airflow",
	},
	"late_blight": {
		"Remove and destroy infected plants immediately",
		"Do not compost infected material",
		"Apply protectant fungicide to nearby plants",
		"Avoid working among wet plants",
	},
	defaultTreatmentKey: {
		"Isolate the affected plant",
		"Remove visibly damaged foliage",
		"Consult a local agricultural extension service for identification",
	},
}

// DefaultTreatments returns the default treatment recommendations for a
// label, falling back to the catch-all entry for unrecognized labels.
func DefaultTreatments(label string) []string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if treatments, ok := defaultTreatments[normalized]; ok {
		return treatments
	}
	return defaultTreatments[defaultTreatmentKey]
}
