package bch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/escrowhub/backend/internal/apperrors"
)

const (
	// FixedFeeSats is the flat network fee per transaction. The transfers
	// here are low-value and non-urgent, so no fee-market estimation.
	FixedFeeSats = 1000

	// DustThresholdSats — change below this is left to the miners instead of
	// creating an uneconomical output.
	DustThresholdSats = 546

	sigHashAllForkID = 0x41
	txVersion        = 2
	inputSequence    = 0xffffffff
)

// UTXOSource is the slice of Service the builder needs.
type UTXOSource interface {
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
}

type Builder struct {
	utxos UTXOSource
}

func NewBuilder(utxos UTXOSource) *Builder {
	return &Builder{utxos: utxos}
}

type txInput struct {
	txHash    []byte // little-endian
	index     uint32
	valueSats int64
}

type txOutput struct {
	valueSats int64
	script    []byte
}

// Build assembles, signs and serializes a transfer of amountSats from
// fromAddress to toAddress. Inputs are consumed in the order the provider
// listed them until they cover amount plus the fixed fee; change above the
// dust threshold goes back to fromAddress.
func (b *Builder) Build(ctx context.Context, fromAddress, toAddress string, amountSats int64, privKeyHex string) (string, error) {
	if amountSats <= 0 {
		return "", apperrors.ErrValidation.WithMessage("amount must be positive")
	}

	keyBytes, err := hex.DecodeString(privKeyHex)
	if err != nil || len(keyBytes) != 32 {
		return "", apperrors.ErrPaymentFailed.WithMessage("invalid signing key")
	}
	priv := secp256k1.PrivKeyFromBytes(keyBytes)

	fromScript, err := p2pkhScript(fromAddress)
	if err != nil {
		return "", fmt.Errorf("from address: %w", err)
	}
	toScript, err := p2pkhScript(toAddress)
	if err != nil {
		return "", fmt.Errorf("to address: %w", err)
	}

	utxos, err := b.utxos.UTXOs(ctx, fromAddress)
	if err != nil {
		return "", err
	}

	required := amountSats + FixedFeeSats
	var inputs []txInput
	var gathered, available int64
	for _, u := range utxos {
		available += u.ValueSats
		if gathered >= required {
			continue
		}
		hash, err := reverseHexHash(u.TxHash)
		if err != nil {
			return "", fmt.Errorf("utxo %s: %w", u.TxHash, err)
		}
		inputs = append(inputs, txInput{txHash: hash, index: u.Index, valueSats: u.ValueSats})
		gathered += u.ValueSats
	}
	if gathered < required {
		return "", apperrors.InsufficientFunds(required, available)
	}

	outputs := []txOutput{{valueSats: amountSats, script: toScript}}
	if change := gathered - required; change > DustThresholdSats {
		outputs = append(outputs, txOutput{valueSats: change, script: fromScript})
	}

	raw, err := signAndSerialize(inputs, outputs, fromScript, priv)
	if err != nil {
		return "", apperrors.ErrPaymentFailed.Wrap(err)
	}
	return hex.EncodeToString(raw), nil
}

// signAndSerialize signs every input with the replay-protected BIP143-style
// digest (SIGHASH_ALL | FORKID) and emits the final wire encoding.
func signAndSerialize(inputs []txInput, outputs []txOutput, prevScript []byte, priv *secp256k1.PrivateKey) ([]byte, error) {
	hashPrevouts := hashOutpoints(inputs)
	hashSequence := hashSequences(inputs)
	hashOutputs := hashOutputsBuf(outputs)
	pubKey := priv.PubKey().SerializeCompressed()

	scriptSigs := make([][]byte, len(inputs))
	for i, in := range inputs {
		var pre bytes.Buffer
		writeUint32(&pre, txVersion)
		pre.Write(hashPrevouts)
		pre.Write(hashSequence)
		pre.Write(in.txHash)
		writeUint32(&pre, in.index)
		writeVarBytes(&pre, prevScript)
		writeUint64(&pre, uint64(in.valueSats))
		writeUint32(&pre, inputSequence)
		pre.Write(hashOutputs)
		writeUint32(&pre, 0) // locktime
		writeUint32(&pre, sigHashAllForkID)

		digest := sha256d(pre.Bytes())
		sig := append(secpecdsa.Sign(priv, digest).Serialize(), sigHashAllForkID)

		var scriptSig bytes.Buffer
		writeVarBytes(&scriptSig, sig)
		writeVarBytes(&scriptSig, pubKey)
		scriptSigs[i] = scriptSig.Bytes()
	}

	var tx bytes.Buffer
	writeUint32(&tx, txVersion)
	writeVarInt(&tx, uint64(len(inputs)))
	for i, in := range inputs {
		tx.Write(in.txHash)
		writeUint32(&tx, in.index)
		writeVarInt(&tx, uint64(len(scriptSigs[i])))
		tx.Write(scriptSigs[i])
		writeUint32(&tx, inputSequence)
	}
	writeVarInt(&tx, uint64(len(outputs)))
	for _, out := range outputs {
		writeUint64(&tx, uint64(out.valueSats))
		writeVarInt(&tx, uint64(len(out.script)))
		tx.Write(out.script)
	}
	writeUint32(&tx, 0) // locktime

	return tx.Bytes(), nil
}

func hashOutpoints(inputs []txInput) []byte {
	var buf bytes.Buffer
	for _, in := range inputs {
		buf.Write(in.txHash)
		writeUint32(&buf, in.index)
	}
	return sha256d(buf.Bytes())
}

func hashSequences(inputs []txInput) []byte {
	var buf bytes.Buffer
	for range inputs {
		writeUint32(&buf, inputSequence)
	}
	return sha256d(buf.Bytes())
}

func hashOutputsBuf(outputs []txOutput) []byte {
	var buf bytes.Buffer
	for _, out := range outputs {
		writeUint64(&buf, uint64(out.valueSats))
		writeVarInt(&buf, uint64(len(out.script)))
		buf.Write(out.script)
	}
	return sha256d(buf.Bytes())
}

func sha256d(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// reverseHexHash converts the display (big-endian) txid into the wire
// (little-endian) byte order.
func reverseHexHash(h string) ([]byte, error) {
	raw, err := hex.DecodeString(h)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("invalid transaction hash %q", h)
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return raw, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case v <= 0xffffffff:
		buf.WriteByte(0xfe)
		writeUint32(buf, uint32(v))
	default:
		buf.WriteByte(0xff)
		writeUint64(buf, v)
	}
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}
