package client

import (
	"testing"

	"github.com/echoboard/echoboard/internal/token"
)

func TestGenerateWallet(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !token.IsValidWalletAddress(w.Address) {
		t.Fatalf("invalid address: %s", w.Address)
	}
}

func TestWalletFromKeyRoundtrip(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := WalletFromKey(w.KeyHex())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Address != w.Address {
		t.Fatalf("address changed: %s vs %s", restored.Address, w.Address)
	}
}

func TestSignatureRecoversToAddress(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	message := "Sign in to Echoboard"
	recovered, err := token.RecoverAddress(message, w.Sign(message))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != w.Address {
		t.Fatalf("recovered %s, want %s", recovered, w.Address)
	}
}
