package services

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ReconstructSignature assembles a 65-byte [R || S || recoveryID] secp256k1
// signature from raw components, resolving the recovery id by recovering the
// public key against the signed digest and comparing it to the expected
// signer. Signing backends disagree on how they report v: some return the
// recovery id directly (0/1), some the legacy Ethereum form (27/28), some an
// EIP-155 adjusted value, and some omit it. Candidates derived from v are
// tried first, then both recovery ids as a fallback, so a miscoded v never
// produces a signature that recovers to the wrong address.
func ReconstructSignature(rHex, sHex string, v *int, digest []byte, expectedSigner common.Address) ([]byte, error) {
	rBytes, err := decodeSignatureComponent(rHex)
	if err != nil {
		return nil, fmt.Errorf("invalid r component: %w", err)
	}
	sBytes, err := decodeSignatureComponent(sHex)
	if err != nil {
		return nil, fmt.Errorf("invalid s component: %w", err)
	}

	for _, recID := range recoveryCandidates(v) {
		sig := make([]byte, 65)
		copy(sig[0:32], rBytes)
		copy(sig[32:64], sBytes)
		sig[64] = recID

		pubKey, err := crypto.Ecrecover(digest, sig)
		if err != nil {
			continue
		}
		recovered, err := crypto.UnmarshalPubkey(pubKey)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*recovered) == expectedSigner {
			return sig, nil
		}
	}

	return nil, fmt.Errorf("signature does not recover expected signer %s", expectedSigner.Hex())
}

// recoveryCandidates orders recovery ids to try, preferring the one implied
// by the reported v
func recoveryCandidates(v *int) []byte {
	if v == nil {
		return []byte{0, 1}
	}
	switch {
	case *v == 0 || *v == 1:
		return []byte{byte(*v), byte(1 - *v)}
	case *v == 27 || *v == 28:
		id := byte(*v - 27)
		return []byte{id, 1 - id}
	case *v >= 35:
		id := byte((*v - 35) % 2)
		return []byte{id, 1 - id}
	default:
		return []byte{0, 1}
	}
}

// decodeSignatureComponent decodes a hex scalar and left-pads it to 32 bytes
func decodeSignatureComponent(raw string) ([]byte, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if cleaned == "" {
		return nil, fmt.Errorf("empty component")
	}
	if len(cleaned)%2 == 1 {
		cleaned = "0" + cleaned
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, err
	}
	if len(decoded) > 32 {
		return nil, fmt.Errorf("component longer than 32 bytes")
	}
	padded := make([]byte, 32)
	copy(padded[32-len(decoded):], decoded)
	return padded, nil
}
