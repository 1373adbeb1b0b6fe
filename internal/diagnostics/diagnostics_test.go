package diagnostics

import "testing"

func TestNew_FormatsMessageAndCarriesPosition(t *testing.T) {
	pos := Position{File: "package.json", Line: 3, Column: 5}
	d := New(KindCycle, pos, "cycle through %s", "build")

	if d.Kind != KindCycle {
		t.Fatalf("expected kind %q, got %q", KindCycle, d.Kind)
	}
	if d.Severity != SeverityError {
		t.Fatalf("New must produce an error-severity diagnostic, got %q", d.Severity)
	}
	if d.Message != "cycle through build" {
		t.Fatalf("unexpected message: %q", d.Message)
	}
	want := "package.json:3:5: cycle: cycle through build"
	if got := d.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWarnf_IsWarningSeverity(t *testing.T) {
	d := Warnf(KindScriptNotWireit, Position{}, "not managed")
	if d.Severity != SeverityWarning {
		t.Fatalf("expected warning severity, got %q", d.Severity)
	}
}

func TestList_ErrIgnoresWarnings(t *testing.T) {
	var l List
	l.Add(Warnf(KindScriptNotWireit, Position{}, "just a warning"))

	if l.HasErrors() {
		t.Fatal("a list with only a warning must not report HasErrors")
	}
	if err := l.Err(); err != nil {
		t.Fatalf("expected nil error from a warning-only list, got %v", err)
	}
}

func TestList_ErrJoinsMultipleErrors(t *testing.T) {
	var l List
	l.Add(New(KindCycle, Position{}, "first"))
	l.Add(New(KindExitNonZero, Position{}, "second"))

	if !l.HasErrors() {
		t.Fatal("expected HasErrors to be true")
	}
	err := l.Err()
	if err == nil {
		t.Fatal("expected a non-nil joined error")
	}
}

func TestDiagnostic_ErrorOnNilReceiverIsEmpty(t *testing.T) {
	var d *Diagnostic
	if d.Error() != "" {
		t.Fatalf("expected empty string for nil *Diagnostic, got %q", d.Error())
	}
}

func TestInvariantf_FormatsMessage(t *testing.T) {
	err := Invariantf("unexpected state %q", "whatever")
	want := "invariant violation: unexpected state \"whatever\""
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
