package cvc

import "strings"

const (
	featurePrefix = "feature/"
	maxSlugLength = 64
)

// NormalizeFeatureName turns user input into a feature branch name:
// lower-cased, runs of characters outside [a-z0-9] collapsed to '-', trimmed,
// and prefixed with "feature/". A leading "feature/" in the input is not
// doubled. Input that slugs to nothing fails with ErrInvalidName.
func NormalizeFeatureName(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, featurePrefix)

	var b strings.Builder
	pendingDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "", NewError(ErrInvalidName, "branch name %q contains no usable characters", raw)
	}
	return featurePrefix + slug, nil
}

// NormalizeBranchName resolves a lookup name: "main" as is, anything else
// through NormalizeFeatureName.
func NormalizeBranchName(raw string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(raw), MainBranchName) {
		return MainBranchName, nil
	}
	return NormalizeFeatureName(raw)
}
