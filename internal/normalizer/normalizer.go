// Package normalizer converts raw remote job payloads into canonical job
// records. It is the single boundary where loose, stringly-typed source data
// becomes typed: nothing downstream inspects raw payloads.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/hirepath/jobsync-server/internal/ats"
	"github.com/hirepath/jobsync-server/internal/model"
)

// Reason enumerates why a raw record could not be normalized.
type Reason string

const (
	// ReasonEmptyPayload means the raw record was nil or empty.
	ReasonEmptyPayload Reason = "empty-payload"

	// ReasonMissingExternalID means the record carries no stable identifier.
	ReasonMissingExternalID Reason = "missing-external-id"

	// ReasonMissingTitle means the record carries no title.
	ReasonMissingTitle Reason = "missing-title"
)

// Error is returned when a mandatory field is absent. The failing record is
// skipped by the caller; it is never fatal to a run.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot normalize record: %s", e.Reason)
}

// remoteToken is matched case-insensitively against location and
// employment-type fields to derive the remote flag.
const remoteToken = "remote"

// Normalize converts a raw remote record into a canonical JobRecord.
// It is pure and deterministic: the same raw input always yields the same
// record, including its content hash.
//
// Missing optional fields map to empty/absent values. Unparsable expiry
// dates are treated as absent, not as errors. Only a missing external ID or
// title fails the record.
func Normalize(raw ats.RawJob) (*model.JobRecord, error) {
	if len(raw) == 0 {
		return nil, &Error{Reason: ReasonEmptyPayload}
	}

	externalID := stringField(raw, "external_id", "id", "job_id")
	if externalID == "" {
		return nil, &Error{Reason: ReasonMissingExternalID}
	}

	title := stringField(raw, "title", "name")
	if title == "" {
		return nil, &Error{Reason: ReasonMissingTitle}
	}

	rec := &model.JobRecord{
		ExternalID:      externalID,
		Title:           title,
		Company:         stringField(raw, "company", "company_name", "organization"),
		Description:     stringField(raw, "description", "content"),
		Department:      stringField(raw, "department", "team"),
		Location:        stringField(raw, "location", "city"),
		EmploymentType:  stringField(raw, "employment_type", "contract_type", "type"),
		ExperienceLevel: stringField(raw, "experience_level", "seniority", "level"),
		Salary:          stringField(raw, "salary", "compensation"),
		Requirements:    stringField(raw, "requirements", "qualifications"),
		Benefits:        stringField(raw, "benefits", "perks"),
	}

	rec.SalaryMin = numberField(raw, "salary_min")
	rec.SalaryMax = numberField(raw, "salary_max")
	rec.Remote = isRemote(raw, rec)
	rec.ExpiresAt = parseExpiry(raw)
	rec.ContentHash = ContentHash(rec)

	return rec, nil
}

// isRemote reports whether the record advertises remote work: any relevant
// field containing the token "remote" (case-insensitive) flags the record.
func isRemote(raw ats.RawJob, rec *model.JobRecord) bool {
	if b, ok := raw["remote"].(bool); ok {
		return b
	}

	haystack := strings.ToLower(strings.Join([]string{
		rec.Location,
		rec.EmploymentType,
		stringField(raw, "workplace", "workplace_type", "work_mode"),
	}, " "))

	return strings.Contains(haystack, remoteToken)
}

// parseExpiry extracts the expiry timestamp. Unparsable dates are treated as
// no expiry rather than an error, per the source's loose date handling.
func parseExpiry(raw ats.RawJob) *time.Time {
	value := stringField(raw, "expires_at", "valid_through", "closing_date")
	if value == "" {
		return nil
	}

	parsed, err := dateparse.ParseAny(value)
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

// ContentHash computes an order-independent digest over all mutable mapped
// fields of a record. Two records with identical mapped fields always hash
// equal, regardless of source field ordering.
func ContentHash(rec *model.JobRecord) string {
	fields := []string{
		"title=" + rec.Title,
		"company=" + rec.Company,
		"description=" + rec.Description,
		"department=" + rec.Department,
		"location=" + rec.Location,
		"employment_type=" + rec.EmploymentType,
		"experience_level=" + rec.ExperienceLevel,
		"remote=" + strconv.FormatBool(rec.Remote),
		"salary=" + rec.Salary,
		"salary_min=" + formatNumber(rec.SalaryMin),
		"salary_max=" + formatNumber(rec.SalaryMax),
		"requirements=" + rec.Requirements,
		"benefits=" + rec.Benefits,
		"expires_at=" + formatTime(rec.ExpiresAt),
	}
	sort.Strings(fields)

	// Each entry is length-prefixed: values may contain newlines or "=",
	// so a plain join could make distinct field splits hash equal.
	h := sha256.New()
	for _, field := range fields {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// stringField returns the first non-empty string value among the given keys.
// Nested objects with a name are flattened (e.g. {"location": {"name": ...}}).
func stringField(raw ats.RawJob, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}

		switch v := value.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			for _, nested := range []string{"name", "display_name", "label"} {
				if s, ok := v[nested].(string); ok {
					if s = strings.TrimSpace(s); s != "" {
						return s
					}
				}
			}
		case float64:
			// Numeric identifiers arrive as JSON numbers.
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// numberField returns a numeric value for the key, accepting JSON numbers
// and numeric strings. Anything else is treated as absent.
func numberField(raw ats.RawJob, key string) *float64 {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}

	switch v := value.(type) {
	case float64:
		return &v
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &parsed
		}
	}
	return nil
}
