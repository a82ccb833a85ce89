package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestAlreadyExists(t *testing.T) {
	exists := fmt.Errorf("create: %w", &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists), StatusCode: 409})
	if !alreadyExists(exists, string(aztables.TableAlreadyExists)) {
		t.Fatalf("expected wrapped conflict to be recognised")
	}
	if alreadyExists(exists, queueAlreadyExists) {
		t.Fatalf("table conflict must not match the queue code")
	}
	if alreadyExists(errors.New("dial tcp: refused"), queueAlreadyExists) {
		t.Fatalf("plain errors are not conflicts")
	}
	if alreadyExists(nil, queueAlreadyExists) {
		t.Fatalf("nil is not a conflict")
	}
}
