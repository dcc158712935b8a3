package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"not found", NotFound("category"), CodeNotFound, http.StatusNotFound},
		{"wrapped conflict", fmt.Errorf("start job: %w", Conflict("job running")), CodeConflict, http.StatusConflict},
		{"missing field", MissingField("name"), CodeMissingField, http.StatusBadRequest},
		{"external", ExternalError("google", errors.New("503")), CodeExternalError, http.StatusBadGateway},
		{"plain error", errors.New("boom"), CodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsAppError(tt.err)
			if got.Code != tt.wantCode || got.Status != tt.wantStatus {
				t.Errorf("AsAppError() = %s/%d, want %s/%d", got.Code, got.Status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("rename: %w", AlreadyExists("category"))
	if !HasCode(err, CodeAlreadyExists) {
		t.Error("HasCode() = false for wrapped AlreadyExists")
	}
	if HasCode(err, CodeNotFound) {
		t.Error("HasCode() matched a different code")
	}
	if HasCode(errors.New("x"), CodeNotFound) {
		t.Error("HasCode() matched a plain error")
	}
}

func TestDatabaseError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := DatabaseError("list categories", cause)
	if !errors.Is(err, cause) {
		t.Error("DatabaseError does not unwrap to its cause")
	}
	if err.Message != "database error: list categories" {
		t.Errorf("Message = %q", err.Message)
	}
}
