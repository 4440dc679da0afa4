package interruption

import "math"

// frameDurationInS is the fixed frame size the whole audio pipeline uses
// (see rtc.AudioFrame.Duration), and the unit detectionIntervalInS and
// minInterruptionDurationInS are expressed in.
const frameDurationInS = 0.01

// slidingWindowMinMax returns the maximum, across every contiguous window of
// windowSize probabilities, of that window's minimum value. A short burst of
// high probability surrounded by low ones is suppressed; the probability
// only clears the threshold once it has stayed elevated for windowSize
// frames running.
func slidingWindowMinMax(probabilities []float64, windowSize int) float64 {
	if len(probabilities) == 0 {
		return 0
	}
	if windowSize <= 0 {
		windowSize = 1
	}
	if windowSize > len(probabilities) {
		// Not enough history yet to evaluate a full window; treat as no
		// evidence of sustained overlap rather than a premature match.
		return 0
	}

	maxOfMin := math.Inf(-1)
	for start := 0; start+windowSize <= len(probabilities); start++ {
		min := probabilities[start]
		for i := start + 1; i < start+windowSize; i++ {
			if probabilities[i] < min {
				min = probabilities[i]
			}
		}
		if min > maxOfMin {
			maxOfMin = min
		}
	}
	return maxOfMin
}

func minInterruptionWindowFrames(minInterruptionDurationInS float64) int {
	return int(math.Ceil(minInterruptionDurationInS / frameDurationInS))
}
