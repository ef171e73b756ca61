package submission

import "regexp"

// Meta keys the survey backend reserves on raw records. An answer key
// colliding with one of these must never reach a dynamic JSON-path update.
var reservedMetaKeys = map[string]struct{}{
	"_id":                {},
	"_uuid":              {},
	"_attachments":       {},
	"_geolocation":       {},
	"_status":            {},
	"_submission_time":   {},
	"_submitted_by":      {},
	"_tags":              {},
	"_notes":             {},
	"_validation_status": {},
	"_xform_id_string":   {},
	"__version__":        {},
	"formhub/uuid":       {},
	"meta/instanceID":    {},
	"meta/rootUuid":      {},
	"meta/deprecatedID":  {},
}

var questionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_./-]*$`)

// CheckQuestionKey rejects keys that would collide with reserved meta keys
// or break out of a JSON path expression when used in a bulk answer update.
func CheckQuestionKey(key string) error {
	if key == "" {
		return ErrUnsafeQuestionKey
	}
	if _, reserved := reservedMetaKeys[key]; reserved {
		return ErrUnsafeQuestionKey
	}
	if !questionKeyPattern.MatchString(key) {
		return ErrUnsafeQuestionKey
	}
	return nil
}
