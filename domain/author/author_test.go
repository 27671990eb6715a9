package author

import (
	"errors"
	"testing"

	"library/domain/shared"
)

func TestRenameToSameNameIsNoOp(t *testing.T) {
	a, err := NewAuthor("Frank Herbert")
	if err != nil {
		t.Fatalf("NewAuthor() error = %v", err)
	}
	a.ClearEvents()

	if err := a.Rename("  Frank Herbert "); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if n := len(a.UncommittedEvents()); n != 0 {
		t.Errorf("len(events) = %d, want 0", n)
	}

	if err := a.Rename("F. Herbert"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if events := a.UncommittedEvents(); len(events) != 1 || events[0].EventName() != EventRenamed {
		t.Errorf("events = %v, want one renamed", events)
	}
}

func TestDeleteWithBooksIsBusinessRuleViolation(t *testing.T) {
	a := RebuildFromDTO(ReconstructionDTO{ID: "a1", Name: "Ursula", Version: 2})

	err := a.Delete(3)
	if !errors.Is(err, shared.ErrBusinessRule) || !errors.Is(err, ErrAuthorHasBooks) {
		t.Fatalf("error = %v, want ErrAuthorHasBooks", err)
	}
	if a.IsDeleted() || len(a.UncommittedEvents()) != 0 {
		t.Error("state changed by a rejected delete")
	}

	if err := a.Delete(0); err != nil {
		t.Fatalf("Delete(0) error = %v", err)
	}
	if !a.IsDeleted() {
		t.Error("author not marked deleted")
	}
}

func TestNewAuthorRequiresName(t *testing.T) {
	if _, err := NewAuthor(" "); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}
