package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code   Code
		status int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeTokenExpired, http.StatusGone},
		{CodeTokenUsed, http.StatusConflict},
		{CodeAlreadyDelivered, http.StatusConflict},
		{CodeInvalidLineItems, http.StatusBadRequest},
		{CodeInsufficientBalance, http.StatusUnprocessableEntity},
		{CodeDailyLimitExceeded, http.StatusUnprocessableEntity},
		{CodeWalletFrozen, http.StatusUnprocessableEntity},
		{CodeCodeSpace, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("MetadataFor(%s).HTTPStatus = %d, want %d", tc.code, got, tc.status)
		}
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	t.Parallel()

	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "loading token")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsThroughWrappingLayers(t *testing.T) {
	t.Parallel()

	inner := New(CodeAlreadyDelivered, "counter 3 already delivered")
	outer := fmt.Errorf("deliver: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeAlreadyDelivered {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestHasCode(t *testing.T) {
	t.Parallel()

	err := New(CodeInsufficientStock, "item out of stock")
	if !HasCode(err, CodeInsufficientStock) {
		t.Fatal("expected HasCode to match")
	}
	if HasCode(err, CodeNotFound) {
		t.Fatal("expected HasCode to reject a different code")
	}
	if HasCode(stdErrors.New("plain"), CodeNotFound) {
		t.Fatal("expected HasCode to reject untyped errors")
	}
}

func TestWithDetails(t *testing.T) {
	t.Parallel()

	err := New(CodeInvalidLineItems, "bad ids").WithDetails(map[string]any{"invalid_ids": []string{"a"}})
	if err.Details() == nil {
		t.Fatal("expected details to be retained")
	}
}
