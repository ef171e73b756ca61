package submission

import "testing"

func TestDiffAnswers(t *testing.T) {
	before := Answers{"age": float64(30), "city": "Berlin", "note": "keep"}
	after := Answers{"age": float64(31), "city": "Berlin", "extra": "new"}

	diff := DiffAnswers(before, after)

	if len(diff) != 3 {
		t.Fatalf("DiffAnswers() len = %d, want 3 (%v)", len(diff), diff)
	}
	if diff["age"] != float64(31) {
		t.Fatalf("DiffAnswers() age = %v", diff["age"])
	}
	if diff["extra"] != "new" {
		t.Fatalf("DiffAnswers() extra = %v", diff["extra"])
	}
	if value, ok := diff["note"]; !ok || value != nil {
		t.Fatalf("DiffAnswers() removed key note = %v, ok=%v", value, ok)
	}
	if _, ok := diff["city"]; ok {
		t.Fatalf("DiffAnswers() unchanged key city must be absent")
	}
}

func TestDiffAnswersEmptyOnEqual(t *testing.T) {
	answers := Answers{"q": []any{"a", "b"}, "n": float64(1)}
	clone := Answers{"q": []any{"a", "b"}, "n": float64(1)}

	if diff := DiffAnswers(answers, clone); len(diff) != 0 {
		t.Fatalf("DiffAnswers() on equal bags = %v, want empty", diff)
	}
}

func TestNewIDShape(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 10 {
			t.Fatalf("NewID() len = %d", len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("NewID() produced duplicate %s", id)
		}
		seen[id] = struct{}{}
	}

	if len(NewUID()) != 21 {
		t.Fatalf("NewUID() len = %d", len(NewUID()))
	}
}

func TestCheckQuestionKey(t *testing.T) {
	for _, key := range []string{"age", "section.total", "group-1/leaf", "q_9"} {
		if err := CheckQuestionKey(key); err != nil {
			t.Fatalf("CheckQuestionKey(%q) error = %v", key, err)
		}
	}

	for _, key := range []string{"", "_id", "_validation_status", "__version__", "_hidden", `a"b`, "a b", "'; drop"} {
		if err := CheckQuestionKey(key); err == nil {
			t.Fatalf("CheckQuestionKey(%q) expected error", key)
		}
	}
}

func TestParseValidation(t *testing.T) {
	if v, ok := ParseValidation("Approved"); !ok || v != ValidationApproved {
		t.Fatalf("ParseValidation(Approved) = %v, %v", v, ok)
	}
	if _, ok := ParseValidation("approved"); ok {
		t.Fatalf("ParseValidation is case sensitive")
	}
	if _, ok := ParseValidation("Unknown"); ok {
		t.Fatalf("ParseValidation accepted unknown status")
	}
}
