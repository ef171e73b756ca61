package submission

// Validation is the review status of one submission. Free-form: any actor
// with edit rights may move between any two statuses, there is no enforced
// workflow ordering.
type Validation string

const (
	ValidationApproved    Validation = "Approved"
	ValidationPending     Validation = "Pending"
	ValidationRejected    Validation = "Rejected"
	ValidationFlagged     Validation = "Flagged"
	ValidationUnderReview Validation = "UnderReview"
)

func (v Validation) Valid() bool {
	switch v {
	case ValidationApproved, ValidationPending, ValidationRejected, ValidationFlagged, ValidationUnderReview:
		return true
	}
	return false
}

func ParseValidation(s string) (Validation, bool) {
	v := Validation(s)
	return v, v.Valid()
}
