package ingest

import "time"

// fraudFeatures are the inputs to the spam score. Only these signals feed the
// score.
type fraudFeatures struct {
	TextLength              int
	RepeatSubmissions       int
	PerceptualHashCollision bool
	DeviceAgeSeconds        int64
	OffHours                bool
}

// fraudScore maps the features to [0,1]. Weights sum to 1.
func fraudScore(f fraudFeatures) float64 {
	score := 0.0
	if f.TextLength < 12 {
		score += 0.25
	}
	switch {
	case f.RepeatSubmissions >= 5:
		score += 0.30
	case f.RepeatSubmissions >= 3:
		score += 0.15
	}
	if f.PerceptualHashCollision {
		score += 0.20
	}
	if f.DeviceAgeSeconds >= 0 && f.DeviceAgeSeconds < 3600 {
		score += 0.15
	}
	if f.OffHours {
		score += 0.10
	}
	if score > 1 {
		score = 1
	}
	return score
}

// offHours reports whether the submission arrived between 01:00 and 05:00
// local service time.
func offHours(t time.Time) bool {
	h := t.Hour()
	return h >= 1 && h < 5
}
