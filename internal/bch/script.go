package bch

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i, c := range base58Alphabet {
		idx[c] = int8(i)
	}
	return idx
}()

var ErrInvalidAddress = errors.New("bch: invalid address")

// addressToHash160 decodes a base58check P2PKH address to its hash160.
func addressToHash160(address string) ([]byte, error) {
	decoded, err := base58Decode(address)
	if err != nil {
		return nil, err
	}
	if len(decoded) != 25 { // version + hash160 + checksum
		return nil, ErrInvalidAddress
	}

	payload, checksum := decoded[:21], decoded[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(checksum, second[:4]) {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
	}
	return payload[1:], nil
}

func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidAddress
	}

	var result []byte
	for _, c := range s {
		if c >= 128 || base58Index[c] < 0 {
			return nil, fmt.Errorf("%w: bad character %q", ErrInvalidAddress, c)
		}
		carry := int(base58Index[c])
		for i := 0; i < len(result); i++ {
			carry += int(result[i]) * 58
			result[i] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			result = append(result, byte(carry&0xff))
			carry >>= 8
		}
	}

	// Leading '1's encode leading zero bytes.
	var leading int
	for _, c := range s {
		if c != '1' {
			break
		}
		leading++
	}

	out := make([]byte, leading+len(result))
	for i, b := range result {
		out[len(out)-1-i] = b
	}
	return out, nil
}

// p2pkhScript builds the standard pay-to-pubkey-hash locking script:
// OP_DUP OP_HASH160 <hash160> OP_EQUALVERIFY OP_CHECKSIG
func p2pkhScript(address string) ([]byte, error) {
	hash160, err := addressToHash160(address)
	if err != nil {
		return nil, err
	}
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14)
	script = append(script, hash160...)
	script = append(script, 0x88, 0xac)
	return script, nil
}
