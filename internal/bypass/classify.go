package bypass

import (
	"net/http"
	"strings"
)

// Kind partitions fetch outcomes for the escalation state machine.
type Kind int

const (
	// KindOK means the page was served and is worth extracting.
	KindOK Kind = iota
	// KindSoftBlock means the response is syntactically successful but
	// substantively denies service (CAPTCHA page, rate-limit notice).
	KindSoftBlock
	// KindHardError means transport failure or an unexpected status.
	KindHardError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindSoftBlock:
		return "soft_block"
	case KindHardError:
		return "hard_error"
	}
	return "unknown"
}

// Outcome is the classification of one raw fetch result. It is the single
// source of truth for retry decisions; every fetch strategy's result must
// pass through Classify before the orchestrator acts on it.
type Outcome struct {
	Kind   Kind
	Reason string // block marker or error description
}

// Detector inspects a response for one soft-block signature. It returns
// whether the signature matched and a short name for it.
type Detector func(status int, body string) (matched bool, reason string)

// DefaultDetectors returns the standard soft-block detectors, checked in
// order.
func DefaultDetectors() []Detector {
	return []Detector{
		detectRateLimitStatus,
		detectCaptchaMarker,
		detectTrafficWarning,
	}
}

// Classify turns a raw transport result into an Outcome. Rule order:
// transport failure wins, then soft-block signatures, then any non-200
// status, then OK.
func Classify(status int, body string, transportErr error) Outcome {
	return ClassifyWith(status, body, transportErr, DefaultDetectors())
}

// ClassifyWith is Classify with a caller-supplied detector list.
func ClassifyWith(status int, body string, transportErr error, detectors []Detector) Outcome {
	if transportErr != nil {
		return Outcome{Kind: KindHardError, Reason: transportErr.Error()}
	}
	for _, d := range detectors {
		if matched, reason := d(status, body); matched {
			return Outcome{Kind: KindSoftBlock, Reason: reason}
		}
	}
	if status != http.StatusOK {
		return Outcome{Kind: KindHardError, Reason: http.StatusText(status)}
	}
	return Outcome{Kind: KindOK}
}

// detectRateLimitStatus flags an explicit 429 from the target.
func detectRateLimitStatus(status int, _ string) (bool, string) {
	if status == http.StatusTooManyRequests {
		return true, "rate_limited"
	}
	return false, ""
}

// detectCaptchaMarker flags CAPTCHA challenge pages regardless of status,
// since the challenge is typically served with a 200.
func detectCaptchaMarker(_ int, body string) (bool, string) {
	if strings.Contains(strings.ToLower(body), "captcha") {
		return true, "captcha"
	}
	return false, ""
}

// detectTrafficWarning flags the "unusual traffic" interstitial.
func detectTrafficWarning(_ int, body string) (bool, string) {
	if strings.Contains(strings.ToLower(body), "unusual traffic") {
		return true, "unusual_traffic"
	}
	return false, ""
}
