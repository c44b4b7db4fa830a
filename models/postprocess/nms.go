// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-anomaly/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float64 `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	ClassAware   bool    `json:"class_aware" yaml:"class_aware"`     // If true, suppress only within same class.
}

// DefaultNMSConfig matches the suppression an Ultralytics export applies.
func DefaultNMSConfig() *NMSConfig {
	return &NMSConfig{IoUThreshold: 0.7, ClassAware: true}
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression on raw
// detections in pixel space.
//
// Detections are ordered by descending score first (ties keep model order);
// each kept detection suppresses later ones whose IoU with it exceeds the
// threshold. Unparseable scores sort last.
//
// Arguments:
//   - detections: Raw detections from a single frame.
//   - config: NMS configuration. nil uses DefaultNMSConfig.
//
// Returns:
//   - Filtered slice of detections. If no detections are provided, returns nil.
func ApplyGreedyNMS(detections []RawDetection, config *NMSConfig) []RawDetection {
	n := len(detections)
	if n == 0 {
		return nil
	}
	if config == nil {
		config = DefaultNMSConfig()
	}

	scores := make([]float64, n)
	order := make([]int, n)
	for i, d := range detections {
		order[i] = i
		s, err := ParseScore(d.Score)
		if err != nil {
			s = -1
		}
		scores[i] = s
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	filtered := make([]RawDetection, 0, n)
	used := make([]bool, n)

	for oi, i := range order {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for _, j := range order[oi+1:] {
			if used[j] {
				continue
			}
			if config.ClassAware && detections[j].Class != anchor.Class {
				continue
			}
			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, detections[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
